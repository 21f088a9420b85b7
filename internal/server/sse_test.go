package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noFlushWriter struct {
	http.ResponseWriter
}

func TestSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(noFlushWriter{httptest.NewRecorder()})
	assert.Error(t, err)
}

func TestSSEWriter_LazyHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	require.NoError(t, err)

	assert.False(t, sse.Started())
	assert.Empty(t, rec.Header().Get("Content-Type"))

	require.NoError(t, sse.WriteEvent("stage", map[string]string{"status": "done"}))
	sse.WriteError("boom")

	assert.True(t, sse.Started())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t,
		"event: stage\ndata: {\"status\":\"done\"}\n\nevent: error\ndata: {\"error\":\"boom\"}\n\n",
		rec.Body.String())
}

func TestSSEWriter_ConcurrentWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sse.WriteEvent("job", map[string]int{"shot_index": i})
		}()
	}
	wg.Wait()

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 20)
	for _, f := range frames {
		assert.True(t, strings.HasPrefix(f, "event: job\ndata: {\"shot_index\":"), f)
	}
}

func TestSSEWriter_UnmarshalableData(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	require.NoError(t, err)

	assert.Error(t, sse.WriteEvent("bad", make(chan int)))
	assert.False(t, sse.Started())
}
