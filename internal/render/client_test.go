package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// fakeProvider scripts the status sequence returned for each job
type fakeProvider struct {
	mu        sync.Mutex
	statuses  []string
	polls     atomic.Int32
	submitted []submitRequest
	reject    int
	nextID    int
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		if f.reject != 0 {
			http.Error(w, "quota exceeded", f.reject)
			return
		}
		var body submitRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.submitted = append(f.submitted, body)
		f.nextID++
		id := fmt.Sprintf("job-%d", f.nextID)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(submitResponse{ID: id})
	})
	mux.HandleFunc("GET /v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.polls.Add(1))
		status := f.statuses[len(f.statuses)-1]
		if n <= len(f.statuses) {
			status = f.statuses[n-1]
		}
		resp := JobStatus{Status: status}
		switch status {
		case StatusSucceeded:
			resp.OutputURL = "https://cdn.example.com/" + r.PathValue("id") + ".mp4"
		case StatusFailed:
			resp.Error = "content policy"
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeProvider, attempts int) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:      srv.URL,
		PollInterval: time.Millisecond,
		MaxAttempts:  attempts,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestPoll_SucceedsAfterThreePolls(t *testing.T) {
	f := &fakeProvider{statuses: []string{StatusPending, StatusPending, StatusSucceeded}}
	c := newTestClient(t, f, 10)

	var seen []string
	url, err := c.Poll(context.Background(), "job-1", func(_ int, status string) {
		seen = append(seen, status)
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/job-1.mp4", url)
	assert.Equal(t, int32(3), f.polls.Load())
	assert.Equal(t, []string{StatusPending, StatusPending, StatusSucceeded}, seen)
}

func TestPoll_TimesOutAfterBudget(t *testing.T) {
	f := &fakeProvider{statuses: []string{StatusProcessing}}
	c := newTestClient(t, f, 4)

	_, err := c.Poll(context.Background(), "job-1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, int32(4), f.polls.Load())
}

func TestPoll_Failed(t *testing.T) {
	f := &fakeProvider{statuses: []string{StatusQueued, StatusFailed}}
	c := newTestClient(t, f, 10)

	_, err := c.Poll(context.Background(), "job-9", nil)
	var failed *RenderFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "job-9", failed.JobID)
	assert.Equal(t, "content policy", failed.Message)
}

func TestPoll_ContextCancelled(t *testing.T) {
	f := &fakeProvider{statuses: []string{StatusPending}}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, PollInterval: time.Hour, MaxAttempts: 5}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Poll(ctx, "job-1", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmit_ClampsDuration(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{requested: 2, want: 5},
		{requested: 7, want: 7},
		{requested: 30, want: 10},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.requested), func(t *testing.T) {
			f := &fakeProvider{statuses: []string{StatusSucceeded}}
			c := newTestClient(t, f, 1)

			id, err := c.Submit(context.Background(), "slow pan over a mug", tt.requested)
			require.NoError(t, err)
			assert.Equal(t, "job-1", id)
			require.Len(t, f.submitted, 1)
			assert.Equal(t, tt.want, f.submitted[0].Duration)
			assert.Equal(t, types.RenderKindVideo, f.submitted[0].Kind)
		})
	}
}

func TestNewClient_DurationRangeDefaults(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
		clamped  map[int]int
	}{
		{name: "unset", clamped: map[int]int{1: 5, 8: 8, 30: 10}},
		{name: "only min", min: 3, clamped: map[int]int{1: 3, 8: 8, 30: 10}},
		{name: "max below min", min: 6, max: 4, clamped: map[int]int{1: 6, 8: 6}},
		{name: "explicit", min: 2, max: 20, clamped: map[int]int{1: 2, 15: 15, 30: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(Config{BaseURL: "http://render.test", MinDuration: tt.min, MaxDuration: tt.max}, nil)
			require.NoError(t, err)
			for requested, want := range tt.clamped {
				assert.Equal(t, want, c.ClampDuration(requested), "requested %d", requested)
			}
		})
	}
}

func TestSubmit_Rejected(t *testing.T) {
	f := &fakeProvider{reject: http.StatusTooManyRequests}
	c := newTestClient(t, f, 1)

	_, err := c.Submit(context.Background(), "prompt", 5)
	var rejected *SubmitRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusTooManyRequests, rejected.StatusCode)
	assert.Contains(t, rejected.Message, "quota exceeded")

	_, err = c.SubmitImage(context.Background(), "  ")
	require.True(t, errors.As(err, &rejected))
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}

func TestRunner_RenderShots(t *testing.T) {
	f := &fakeProvider{statuses: []string{StatusPending, StatusSucceeded}}
	c := newTestClient(t, f, 50)
	runner := NewRunner(c, nil, 2)

	shots := []types.Shot{
		{Index: 0, Prompt: "pour", DurationSeconds: 5},
		{Index: 1, Prompt: "", DurationSeconds: 5},
		{Index: 2, Prompt: "sip", DurationSeconds: 12},
	}

	var mu sync.Mutex
	var updates []types.RenderJob
	jobs := runner.RenderShots(context.Background(), shots, func(job types.RenderJob) {
		mu.Lock()
		updates = append(updates, job)
		mu.Unlock()
	})

	require.Len(t, jobs, 3)
	assert.Equal(t, types.RenderStatusDone, jobs[0].Status)
	assert.True(t, strings.HasSuffix(jobs[0].ResultURL, ".mp4"))
	assert.Equal(t, types.RenderStatusError, jobs[1].Status)
	assert.Contains(t, jobs[1].Error, "empty prompt")
	assert.Equal(t, types.RenderStatusDone, jobs[2].Status)
	assert.Equal(t, 10, jobs[2].DurationSeconds)
	for i, job := range jobs {
		assert.Equal(t, i, job.ShotIndex)
	}
	assert.NotEmpty(t, updates)
}

type stubArchiver struct{}

func (stubArchiver) Archive(_ context.Context, key, _ string) (string, error) {
	return "s3://renders/" + key, nil
}

func TestRunner_ArchivesFinishedMedia(t *testing.T) {
	f := &fakeProvider{statuses: []string{StatusSucceeded}}
	c := newTestClient(t, f, 3)
	runner := NewRunner(c, stubArchiver{}, 0)

	job := runner.Run(context.Background(), types.RenderJob{Kind: types.RenderKindImage, Prompt: "hero frame"}, nil)
	assert.Equal(t, types.RenderStatusDone, job.Status)
	assert.Equal(t, "s3://renders/job-1", job.ResultURL)
	assert.Equal(t, types.RenderKindImage, f.submitted[0].Kind)
	assert.Equal(t, 1, job.Attempts)
}
