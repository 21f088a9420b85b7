package render

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// Archiver copies finished media somewhere durable and returns its new location
type Archiver interface {
	Archive(ctx context.Context, key, sourceURL string) (string, error)
}

// JobFunc receives every status change of a render job
type JobFunc func(job types.RenderJob)

// Runner drives render jobs from submission to a settled status
type Runner struct {
	client   *Client
	archiver Archiver
	limit    int
}

// NewRunner creates a runner. archiver may be nil; limit <= 0 means unbounded.
func NewRunner(client *Client, archiver Archiver, limit int) *Runner {
	return &Runner{client: client, archiver: archiver, limit: limit}
}

// Run submits job and polls it to completion. The returned job carries the
// final status; failures are recorded on the job rather than returned.
func (r *Runner) Run(ctx context.Context, job types.RenderJob, onJob JobFunc) types.RenderJob {
	notify := func() {
		if onJob != nil {
			onJob(job)
		}
	}

	job.Status = types.RenderStatusSubmitting
	notify()

	var (
		id  string
		err error
	)
	if job.Kind == types.RenderKindImage {
		id, err = r.client.SubmitImage(ctx, job.Prompt)
	} else {
		job.Kind = types.RenderKindVideo
		job.DurationSeconds = r.client.ClampDuration(job.DurationSeconds)
		id, err = r.client.Submit(ctx, job.Prompt, job.DurationSeconds)
	}
	if err != nil {
		job.Status = types.RenderStatusError
		job.Error = err.Error()
		notify()
		return job
	}

	job.JobID = id
	job.Status = types.RenderStatusPolling
	notify()

	url, err := r.client.Poll(ctx, id, func(attempt int, _ string) {
		job.Attempts = attempt
	})
	if err != nil {
		job.Status = types.RenderStatusError
		job.Error = err.Error()
		notify()
		return job
	}

	if r.archiver != nil {
		if archived, err := r.archiver.Archive(ctx, id, url); err != nil {
			r.client.logger.Warn("render archive failed", "job_id", id, "error", err)
		} else {
			url = archived
		}
	}

	job.ResultURL = url
	job.Status = types.RenderStatusDone
	notify()
	return job
}

// RenderShots renders every shot concurrently and returns one job per shot in
// shot order. A failing shot never stops its siblings.
func (r *Runner) RenderShots(ctx context.Context, shots []types.Shot, onJob JobFunc) []types.RenderJob {
	jobs := make([]types.RenderJob, len(shots))

	var mu sync.Mutex
	safeNotify := func(job types.RenderJob) {
		if onJob == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onJob(job)
	}

	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, shot := range shots {
		g.Go(func() error {
			jobs[i] = r.Run(ctx, types.RenderJob{
				ShotIndex:       i,
				Kind:            types.RenderKindVideo,
				Prompt:          shot.Prompt,
				DurationSeconds: shot.DurationSeconds,
			}, safeNotify)
			return nil
		})
	}
	_ = g.Wait()
	return jobs
}
