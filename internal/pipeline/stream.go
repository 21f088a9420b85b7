package pipeline

import "context"

// StreamBuffer is the channel capacity used by Stream
const StreamBuffer = 16

// Stream runs fn in a goroutine and delivers its progress events on the
// returned channel, which is closed when fn returns. Cancellation is
// cooperative: once ctx is done further events are dropped, but fn itself is
// left to notice ctx on its own.
func Stream(ctx context.Context, fn func(ctx context.Context, cb ProgressCallback) error) <-chan Event {
	ch := make(chan Event, StreamBuffer)
	go func() {
		defer close(ch)
		_ = fn(ctx, func(ev Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return ch
}
