package runstate

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

func TestTransition_CleanChains(t *testing.T) {
	tests := []struct {
		name   string
		start  State
		events []Event
	}{
		{name: "full chain", start: Idle, events: ExpectedSequence(types.StageAnalysis, false)},
		{name: "upload first", start: Idle, events: append([]Event{Upload()}, ExpectedSequence(types.StageAnalysis, false)...)},
		{name: "cache skip", start: Idle, events: ExpectedSequence(types.StageAnalysis, true)},
		{name: "retry from composition", start: Complete, events: append([]Event{Retry(types.StageComposition)}, ExpectedSequence(types.StageComposition, false)...)},
		{name: "retry after error", start: Error, events: append([]Event{Retry(types.StageScript)}, ExpectedSequence(types.StageScript, false)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := tt.start
			for _, ev := range tt.events {
				next, err := Transition(state, ev)
				require.NoError(t, err, "event %s from %s", ev, state)
				state = next
			}
			assert.Equal(t, Complete, state)
		})
	}
}

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		name       string
		from       State
		event      Event
		want       State
		outOfOrder bool
	}{
		{name: "begin analysis", from: Idle, event: Begin(types.StageAnalysis), want: Analyzing},
		{name: "complete analysis", from: Analyzing, event: Completed(types.StageAnalysis), want: Scripting},
		{name: "begin is idempotent", from: Scripting, event: Begin(types.StageScript), want: Scripting},
		{name: "complete last stage", from: Captioning, event: Completed(types.StageOptimization), want: Complete},
		{name: "fail mid run", from: Directing, event: Fail(types.StageComposition), want: Error},
		{name: "cache skip from upload", from: Uploading, event: CacheSkip(), want: Scripting},
		{name: "retry from complete", from: Complete, event: Retry(types.StageAnalysis), want: Analyzing},
		{name: "skip ahead", from: Idle, event: Begin(types.StageComposition), want: Directing, outOfOrder: true},
		{name: "complete wrong stage", from: Analyzing, event: Completed(types.StageScript), want: Directing, outOfOrder: true},
		{name: "fail after complete", from: Complete, event: Fail(types.StageOptimization), want: Error, outOfOrder: true},
		{name: "cache skip mid run", from: Directing, event: CacheSkip(), want: Scripting, outOfOrder: true},
		{name: "invalid stage", from: Idle, event: Begin(types.Stage(8)), want: Error, outOfOrder: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			assert.Equal(t, tt.want, got)
			if tt.outOfOrder {
				var ooo *OutOfOrderError
				require.True(t, errors.As(err, &ooo))
				assert.Equal(t, tt.from, ooo.From)
				assert.Equal(t, tt.want, ooo.To)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func randomEvent(r *rand.Rand) Event {
	stage := types.Stage(r.Intn(types.StageCount))
	switch r.Intn(6) {
	case 0:
		return Upload()
	case 1:
		return Begin(stage)
	case 2:
		return Completed(stage)
	case 3:
		return Fail(stage)
	case 4:
		return CacheSkip()
	default:
		return Retry(stage)
	}
}

// For any sequence of events accepted without warnings, a stage can only
// complete after every earlier stage completed or was skipped.
func TestTransition_OrderingProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for trial := 0; trial < 5000; trial++ {
		state := Idle
		var settled [types.StageCount]bool

		for step := 0; step < 20; step++ {
			ev := randomEvent(r)
			next, err := Transition(state, ev)
			if err != nil {
				break
			}

			switch ev.Kind {
			case EventComplete:
				for earlier := types.StageAnalysis; earlier < ev.Stage; earlier++ {
					require.True(t, settled[earlier], "trial %d: %s completed before %s settled", trial, ev.Stage, earlier)
				}
				settled[ev.Stage] = true
			case EventCacheSkip:
				settled[types.StageAnalysis] = true
			case EventRetry:
				// Stages before the retry point are carried over from the parent run
				for s := types.StageAnalysis; s.Valid(); s++ {
					settled[s] = s < ev.Stage
				}
			}

			if next == Complete {
				for s := range settled {
					assert.True(t, settled[s])
				}
			}
			state = next
		}
	}
}

func TestTransition_FailAlwaysReachesError(t *testing.T) {
	for _, s := range []State{Idle, Uploading, Analyzing, Scripting, Directing, Captioning} {
		next, err := Transition(s, Fail(types.StageScript))
		assert.NoError(t, err)
		assert.Equal(t, Error, next)
	}
}

func TestStateForStage(t *testing.T) {
	for _, stage := range types.AllStages() {
		s := StateForStage(stage)
		back, ok := StageForState(s)
		require.True(t, ok)
		assert.Equal(t, stage, back)
	}
	_, ok := StageForState(Complete)
	assert.False(t, ok)
	assert.True(t, Complete.Terminal())
	assert.False(t, Scripting.Terminal())
}
