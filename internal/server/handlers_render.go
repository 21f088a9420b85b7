package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/server/middleware"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// handleRender submits every shot of a run's composition to the rendering
// service and streams job updates until all jobs settle
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if s.deps.Renderer == nil {
		s.fail(w, r, &ErrUnavailable{Feature: "rendering"})
		return
	}
	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	entry, err := s.deps.History.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	shots, err := history.CompositionShots(entry)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	log := middleware.Logger(r.Context()).With("run_id", id)
	jobs := s.deps.Renderer.RenderShots(r.Context(), shots, func(job types.RenderJob) {
		if err := sse.WriteEvent("job", job); err != nil {
			log.Debug("failed to write job event", "shot", job.ShotIndex, "error", err)
		}
	})

	if s.deps.RenderCosts != nil {
		if err := s.deps.RenderCosts.AddRenderCost(r.Context(), id, jobs); err != nil {
			log.Error("failed to record render cost", "error", err)
		}
	}
	if err := sse.WriteEvent("complete", map[string]any{"run_id": id, "jobs": jobs}); err != nil {
		log.Debug("failed to write complete event", "error", err)
	}
}
