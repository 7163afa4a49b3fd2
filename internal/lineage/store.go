package lineage

import (
	"context"

	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/model"
)

// Sink is the persistence surface a StoreRecorder writes to. The job store
// satisfies it.
type Sink interface {
	RecordInput(ctx context.Context, fp model.InputFingerprint) error
	RecordStage(ctx context.Context, rec model.StageRecord) error
	RecordLLMCall(ctx context.Context, call model.LLMCall) error
}

// StoreRecorder persists lineage through a Sink. Write failures are logged
// and swallowed so provenance problems never fail a job.
type StoreRecorder struct {
	sink Sink
}

// NewStoreRecorder wraps a sink in a best-effort recorder.
func NewStoreRecorder(sink Sink) *StoreRecorder {
	return &StoreRecorder{sink: sink}
}

func (r *StoreRecorder) RecordInput(ctx context.Context, fp model.InputFingerprint) {
	if err := r.sink.RecordInput(ctx, fp); err != nil {
		zap.L().Warn("lineage input record failed",
			zap.String("job_id", fp.JobID),
			zap.Error(err))
	}
}

func (r *StoreRecorder) RecordStage(ctx context.Context, rec model.StageRecord) {
	if err := r.sink.RecordStage(ctx, rec); err != nil {
		zap.L().Warn("lineage stage record failed",
			zap.String("job_id", rec.JobID),
			zap.String("stage", rec.Stage),
			zap.Error(err))
	}
}

func (r *StoreRecorder) RecordLLMCall(ctx context.Context, call model.LLMCall) {
	if err := r.sink.RecordLLMCall(ctx, call); err != nil {
		zap.L().Warn("lineage llm call record failed",
			zap.String("job_id", call.JobID),
			zap.String("segment", call.Segment),
			zap.Error(err))
	}
}
