package server

import (
	"net/http"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/server/middleware"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/variations"
)

// handleVariations fans a product out into seeded creative variants. The
// product is either a fresh upload or the analysis of an earlier run.
func (s *Server) handleVariations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Variations == nil {
		s.fail(w, r, &ErrUnavailable{Feature: "variations"})
		return
	}
	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	form, err := s.parseUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	req := variations.Request{Input: form.input(), Count: form.Count}
	switch {
	case form.RunID != "":
		entry, err := s.deps.History.Get(r.Context(), form.RunID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if req.Analysis, err = history.StoredAnalysis(entry); err != nil {
			s.fail(w, r, err)
			return
		}
		req.ParentRunID = entry.ID
		if req.Input.ProductName == "" {
			req.Input.ProductName = entry.Product.Name
		}
		req.Input.Filename = entry.Product.Filename
		req.Input.MIMEType = entry.Product.MIMEType
	case len(form.Image) == 0:
		s.fail(w, r, &ErrValidation{Field: "image", Message: "file or run_id is required"})
		return
	}

	log := middleware.Logger(r.Context())
	res, err := s.deps.Variations.Run(r.Context(), req, func(ev variations.Event) {
		if err := sse.WriteEvent(string(ev.Type), ev); err != nil {
			log.Debug("failed to write event", "batch_id", ev.BatchID, "error", err)
		}
	})
	if err != nil {
		// The engine already streamed the error event
		log.Warn("variation batch failed", "error", err)
		return
	}
	if err := sse.WriteEvent("result", res); err != nil {
		log.Debug("failed to write result", "batch_id", res.BatchID, "error", err)
	}
}
