package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// maxJSONBody bounds the small JSON bodies of the history endpoints
const maxJSONBody = 64 << 10

type tagsRequest struct {
	Tags []string `json:"tags" validate:"max=20,dive,max=64"`
}

type notesRequest struct {
	Notes string `json:"notes" validate:"max=4000"`
}

type deleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=200,dive,required"`
}

// decodeJSON reads a bounded JSON body into dst and validates it
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// parseFilter reads listing conditions from the query string
func parseFilter(r *http.Request) (history.Filter, error) {
	q := r.URL.Query()
	f := history.Filter{
		Status: q.Get("status"),
		Search: q.Get("q"),
		Tag:    q.Get("tag"),
	}
	switch f.Status {
	case "", types.HistoryStatusRunning, types.HistoryStatusComplete, types.HistoryStatusFailed:
	default:
		return f, &ErrValidation{Field: "status", Message: "unknown status " + strconv.Quote(f.Status)}
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, &ErrValidation{Field: p.name, Message: "must be an RFC 3339 timestamp"}
		}
		*p.dst = &t
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, &ErrValidation{Field: p.name, Message: "must be a non-negative integer"}
		}
		*p.dst = n
	}
	return f.Normalize(), nil
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.deps.History.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if page.Entries == nil {
		page.Entries = []types.HistoryEntry{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"entries": page.Entries,
		"total":   page.Total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	entry, err := s.deps.History.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, entry)
}

func (s *Server) handleSetTags(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	tags := history.NormalizeTags(req.Tags)
	if err := s.deps.History.SetTags(r.Context(), id, tags); err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"id": id, "tags": tags})
}

func (s *Server) handleSetNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.History.SetNotes(r.Context(), id, req.Notes); err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"id": id, "notes": req.Notes})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.History.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if n == 0 {
		s.fail(w, r, history.ErrNotFound)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]int{"deleted": n})
}

// handleDeleteHistoryBatch removes many entries at once; unknown ids are ignored
func (s *Server) handleDeleteHistoryBatch(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.deps.History.Delete(r.Context(), req.IDs...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]int{"deleted": n})
}
