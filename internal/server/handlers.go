package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/pipeline"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/server/middleware"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// uploadForm is the multipart body accepted by the generation endpoints
type uploadForm struct {
	ProductName string   `validate:"max=200"`
	Tags        []string `validate:"max=20,dive,max=64"`
	MIMEType    string   `validate:"omitempty,oneof=image/jpeg image/png image/gif image/webp"`
	Count       int      `validate:"min=0,max=12"`
	RunID       string   `validate:"omitempty,uuid"`
	Filename    string
	Image       []byte
}

func (f *uploadForm) input() pipeline.Input {
	return pipeline.Input{
		Image:       f.Image,
		MIMEType:    f.MIMEType,
		Filename:    f.Filename,
		ProductName: f.ProductName,
		Tags:        f.Tags,
	}
}

// parseUpload reads the optional multipart form. A request without a
// multipart body yields an empty form.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (*uploadForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	form := &uploadForm{}

	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, err
		case errors.Is(err, http.ErrNotMultipart):
			return form, nil
		default:
			return nil, &ErrValidation{Field: "body", Message: err.Error()}
		}
	}

	form.ProductName = strings.TrimSpace(r.FormValue("product_name"))
	form.RunID = strings.TrimSpace(r.FormValue("run_id"))
	if tags := r.FormValue("tags"); tags != "" {
		form.Tags = history.NormalizeTags(strings.Split(tags, ","))
	}
	if count := r.FormValue("count"); count != "" {
		n, err := strconv.Atoi(count)
		if err != nil {
			return nil, &ErrValidation{Field: "count", Message: "must be an integer"}
		}
		form.Count = n
	}

	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return nil, &ErrValidation{Field: "image", Message: err.Error()}
	default:
		defer func() { _ = file.Close() }()
		if form.Image, err = io.ReadAll(file); err != nil {
			return nil, err
		}
		form.Filename = header.Filename
		form.MIMEType = imageType(header.Header.Get("Content-Type"), form.Image)
	}

	if err := s.validate.Struct(form); err != nil {
		return nil, validationError(err)
	}
	return form, nil
}

// imageType trusts a declared image type and sniffs anything else
func imageType(declared string, data []byte) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err == nil && strings.HasPrefix(mt, "image/") {
		return mt
	}
	mt, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

// runEvents writes pipeline events to the stream
func runEvents(r *http.Request, sse *SSEWriter) pipeline.ProgressCallback {
	return func(ev pipeline.Event) {
		if err := sse.WriteEvent(ev.Type(), ev); err != nil {
			middleware.Logger(r.Context()).Debug("failed to write event", "run_id", ev.RunID, "error", err)
		}
	}
}

// finishStream reports err on the stream, or as a plain JSON error when
// nothing was streamed yet. Stage failures were already streamed.
func (s *Server) finishStream(w http.ResponseWriter, r *http.Request, sse *SSEWriter, err error) {
	if err == nil {
		return
	}
	if !sse.Started() {
		s.fail(w, r, err)
		return
	}
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) {
		sse.WriteError(err.Error())
	}
}

// handleRun runs the full chain for an uploaded product photo and streams progress
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
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
	if len(form.Image) == 0 {
		s.fail(w, r, &ErrValidation{Field: "image", Message: "file is required"})
		return
	}

	_, err = s.deps.Runs.Run(r.Context(), form.input(), runEvents(r, sse))
	s.finishStream(w, r, sse, err)
}

// handleRetry starts a derived run from the requested stage and streams progress
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	stageParam := r.URL.Query().Get("stage")
	if stageParam == "" {
		s.fail(w, r, &ErrValidation{Field: "stage", Message: "is required"})
		return
	}
	from, err := types.ParseStage(stageParam)
	if err != nil {
		s.fail(w, r, &ErrValidation{Field: "stage", Message: err.Error()})
		return
	}

	form, err := s.parseUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	entry, err := s.deps.History.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	parent := history.RunFromEntry(entry)

	var opts []pipeline.RetryOption
	if from == types.StageAnalysis {
		data, mimeType, err := s.retryImage(r, form, entry)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		opts = append(opts, pipeline.WithImage(data, mimeType))
	}

	_, err = s.deps.Runs.Retry(r.Context(), parent, from, runEvents(r, sse), opts...)
	s.finishStream(w, r, sse, err)
}

// retryImage prefers a freshly uploaded photo over the stored one
func (s *Server) retryImage(r *http.Request, form *uploadForm, entry *types.HistoryEntry) ([]byte, string, error) {
	if len(form.Image) > 0 {
		return form.Image, form.MIMEType, nil
	}
	if s.deps.Images == nil || entry.Product.Thumbnail == "" {
		return nil, "", &ErrConflict{Message: "product image unavailable: upload it with the retry"}
	}
	data, mimeType, err := s.deps.Images.GetProductImage(r.Context(), entry.Product.Thumbnail)
	if err != nil {
		return nil, "", err
	}
	if mimeType == "" {
		mimeType = entry.Product.MIMEType
	}
	return data, mimeType, nil
}
