// Package lineage records data provenance for pipeline runs: input
// fingerprints, per-stage artifacts, and transformation engine calls.
// Recording is strictly best-effort; a lineage failure never fails a job.
package lineage

import (
	"context"

	"github.com/keystone-supply/catalog-etl/internal/model"
)

// Recorder is the provenance sink capability. Implementations must swallow
// their own errors: callers fire and forget.
type Recorder interface {
	RecordInput(ctx context.Context, fp model.InputFingerprint)
	RecordStage(ctx context.Context, rec model.StageRecord)
	RecordLLMCall(ctx context.Context, call model.LLMCall)
}

// Noop discards all lineage. The default when no store is configured.
type Noop struct{}

func (Noop) RecordInput(context.Context, model.InputFingerprint) {}
func (Noop) RecordStage(context.Context, model.StageRecord)     {}
func (Noop) RecordLLMCall(context.Context, model.LLMCall)       {}
