package variations

import (
	"context"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/pipeline"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/runstate"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// record holds what observers need to see a variation as a run
type record struct {
	parentRunID string
	fingerprint string
	product     types.ProductInfo
	tags        []string
	started     time.Time
	current     types.Stage
}

func newRecord(req Request, res *Result, seed types.CreativeSeed) record {
	tags := append([]string(nil), req.Input.Tags...)
	tags = append(tags, "variation", "batch:"+res.BatchID)
	for _, kv := range [][2]string{
		{"hook:", seed.HookStyle},
		{"music:", seed.MusicMood},
		{"cta:", seed.CTAType},
		{"angle:", seed.ContentAngle},
	} {
		if kv[1] != "" {
			tags = append(tags, kv[0]+kv[1])
		}
	}
	return record{
		parentRunID: req.ParentRunID,
		fingerprint: res.Fingerprint,
		product: types.ProductInfo{
			Name:     req.Input.ProductName,
			Filename: req.Input.Filename,
			MIMEType: req.Input.MIMEType,
		},
		tags:    tags,
		current: types.StageScript,
	}
}

// snapshot describes the variation as a run whose stage 1 was skipped
func (t *task) snapshot() pipeline.Run {
	run := pipeline.Run{
		ID:           t.v.ID,
		CurrentStage: t.record.current,
		Stages:       t.v.Stages,
		StartedAt:    t.record.started,
		Fingerprint:  t.record.fingerprint,
		CacheHit:     true,
		Product:      t.record.product,
		Tags:         t.record.tags,
	}
	if t.record.parentRunID != "" {
		parent := t.record.parentRunID
		run.ParentRunID = &parent
	}

	switch t.v.Status {
	case StatusComplete:
		run.Status = runstate.Complete
	case StatusFailed:
		run.Status = runstate.Error
	default:
		run.Status = runstate.StateForStage(t.record.current)
	}
	if run.Status.Terminal() {
		done := time.Now()
		run.CompletedAt = &done
	}
	return run
}

func (t *task) notify(ctx context.Context, ev pipeline.Event) {
	if len(t.engine.observers) == 0 {
		return
	}
	ev.RunID = t.v.ID
	run := t.snapshot()
	for _, obs := range t.engine.observers {
		obs.OnEvent(ctx, run, ev)
	}
}
