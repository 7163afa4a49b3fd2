// Package pipeline orchestrates the three-stage extraction flow for a single
// job: read the source into a bronze artifact, transform classified segments
// into validated silver systems, and hand the result to a warehouse loader.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/config"
	"github.com/keystone-supply/catalog-etl/internal/extract"
	"github.com/keystone-supply/catalog-etl/internal/lineage"
	"github.com/keystone-supply/catalog-etl/internal/model"
	"github.com/keystone-supply/catalog-etl/internal/segment"
	"github.com/keystone-supply/catalog-etl/internal/store"
	"github.com/keystone-supply/catalog-etl/internal/transform"
	"github.com/keystone-supply/catalog-etl/internal/validate"
	"github.com/keystone-supply/catalog-etl/pkg/docling"
)

// errorMessageLimit bounds the error text persisted on a failed job. The
// full trace still goes to the log.
const errorMessageLimit = 100

// SegmentTransformer turns one classified segment into silver systems.
type SegmentTransformer interface {
	TransformSegment(ctx context.Context, jobID string, seg segment.Segment, sourceType model.SourceType) (*transform.Result, error)
}

// Enricher fills missing system attributes from an external registry.
type Enricher interface {
	EnrichSystems(ctx context.Context, systems []model.System) ([]model.System, int)
}

// Loader moves a silver artifact into the destination warehouse or format.
// Implementations report how many rows landed and where.
type Loader interface {
	Load(ctx context.Context, silverPath, destDir string) (rows int, path string, err error)
}

// NoopLoader skips stage 3 entirely.
type NoopLoader struct{}

func (NoopLoader) Load(context.Context, string, string) (int, string, error) {
	return 0, "", nil
}

// SegmentError marks a segment whose transformation failed. The pipeline
// logs it and moves on to the next segment.
type SegmentError struct {
	Segment string
	Err     error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %q: %s", e.Segment, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// Pipeline runs jobs end to end.
type Pipeline struct {
	cfg         *config.Config
	store       store.Store
	excel       *extract.ExcelReader
	document    *extract.DocumentReader
	classifier  *segment.Classifier
	transformer SegmentTransformer
	enricher    Enricher
	loader      Loader
	recorder    lineage.Recorder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEnricher enables AHRI enrichment for jobs that request it.
func WithEnricher(e Enricher) Option {
	return func(p *Pipeline) { p.enricher = e }
}

// WithLoader sets the stage-3 loader.
func WithLoader(l Loader) Option {
	return func(p *Pipeline) { p.loader = l }
}

// WithRecorder sets the lineage sink.
func WithRecorder(r lineage.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// New creates a pipeline with all collaborators wired.
func New(cfg *config.Config, st store.Store, engine docling.Client, transformer SegmentTransformer, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		store:       st,
		excel:       extract.NewExcelReader(cfg.Extract),
		document:    extract.NewDocumentReader(engine),
		classifier:  segment.NewClassifier(cfg.Classify),
		transformer: transformer,
		loader:      NoopLoader{},
		recorder:    lineage.Noop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// jobDirs is the on-disk layout for one job.
type jobDirs struct {
	root   string
	input  string
	bronze string
	silver string
	gold   string
}

func newJobDirs(base, jobID string) jobDirs {
	root := filepath.Join(base, jobID)
	return jobDirs{
		root:   root,
		input:  filepath.Join(root, "input"),
		bronze: filepath.Join(root, "bronze"),
		silver: filepath.Join(root, "silver"),
		gold:   filepath.Join(root, "gold"),
	}
}

func (d jobDirs) create() error {
	for _, dir := range []string{d.input, d.bronze, d.silver, d.gold} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "pipeline: create %s", dir)
		}
	}
	return nil
}

// Run executes a job. Any unhandled error marks the job failed with a
// truncated message; the full trace goes to the log.
func (p *Pipeline) Run(ctx context.Context, job *model.Job) error {
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("source", job.SourceFile))
	log.Info("pipeline: starting job")

	if err := p.run(ctx, job, log); err != nil {
		log.Error("pipeline: job failed", zap.String("trace", eris.ToString(err, true)))
		if failErr := p.store.FailJob(ctx, job.ID, truncate(err.Error(), errorMessageLimit)); failErr != nil {
			log.Warn("pipeline: failed to mark job failed", zap.Error(failErr))
		}
		return err
	}

	log.Info("pipeline: job completed")
	return nil
}

func (p *Pipeline) run(ctx context.Context, job *model.Job, log *zap.Logger) error {
	dirs := newJobDirs(p.cfg.Jobs.Dir, job.ID)
	if err := dirs.create(); err != nil {
		return err
	}

	inputPath, err := p.stageInput(ctx, job, dirs)
	if err != nil {
		return err
	}

	// Stage 1: extract.
	p.setStatus(ctx, job.ID, model.JobStatusStage1, log)
	p.progress(ctx, job.ID, "stage1_extracting", 0, "reading source file", log)
	stageStart := time.Now()

	bronze, err := p.readSource(ctx, inputPath, job.SourceType)
	if err != nil {
		return err
	}
	bronzePath := filepath.Join(dirs.bronze, "bronze.json")
	if err := writeArtifact(bronzePath, bronze); err != nil {
		return err
	}
	p.recorder.RecordStage(ctx, model.StageRecord{
		JobID:        job.ID,
		Stage:        "stage1_extracting",
		ArtifactPath: bronzePath,
		ItemCount:    bronze.RecordCount(),
		DurationMS:   time.Since(stageStart).Milliseconds(),
		CompletedAt:  time.Now().UTC(),
	})
	p.progress(ctx, job.ID, "stage1_extracting", 100,
		fmt.Sprintf("extracted %d records", bronze.RecordCount()), log)

	// Stage 2: transform.
	p.setStatus(ctx, job.ID, model.JobStatusStage2, log)
	stageStart = time.Now()

	systems, costUSD, warnCount, enriched, err := p.transformStage(ctx, job, bronze, log)
	if err != nil {
		return err
	}
	silverPath := filepath.Join(dirs.silver, "silver.json")
	if err := writeArtifact(silverPath, &model.Silver{Systems: systems}); err != nil {
		return err
	}
	p.recorder.RecordStage(ctx, model.StageRecord{
		JobID:        job.ID,
		Stage:        "stage2_transforming",
		ArtifactPath: silverPath,
		ItemCount:    len(systems),
		DurationMS:   time.Since(stageStart).Milliseconds(),
		CompletedAt:  time.Now().UTC(),
	})
	p.progress(ctx, job.ID, "stage2_transforming", 100,
		fmt.Sprintf("extracted %d systems", len(systems)), log)

	// Stage 3: load.
	p.setStatus(ctx, job.ID, model.JobStatusStage3, log)
	p.progress(ctx, job.ID, "stage3_loading", 0, "loading silver artifact", log)
	stageStart = time.Now()

	goldRows, goldPath, err := p.loader.Load(ctx, silverPath, dirs.gold)
	if err != nil {
		return eris.Wrap(err, "pipeline: load")
	}
	if goldPath != "" {
		p.recorder.RecordStage(ctx, model.StageRecord{
			JobID:        job.ID,
			Stage:        "stage3_loading",
			ArtifactPath: goldPath,
			ItemCount:    goldRows,
			DurationMS:   time.Since(stageStart).Milliseconds(),
			CompletedAt:  time.Now().UTC(),
		})
	}
	p.progress(ctx, job.ID, "stage3_loading", 100,
		fmt.Sprintf("loaded %d rows", goldRows), log)

	componentCount := 0
	for i := range systems {
		componentCount += len(systems[i].Components)
	}
	result := &model.JobResult{
		RecordCount:    bronze.RecordCount(),
		SystemCount:    len(systems),
		ComponentCount: componentCount,
		WarningCount:   warnCount,
		EnrichedCount:  enriched,
		GoldRows:       goldRows,
		GoldPath:       goldPath,
		CostUSD:        costUSD,
	}
	if err := p.store.CompleteJob(ctx, job.ID, result); err != nil {
		return eris.Wrap(err, "pipeline: complete job")
	}
	return nil
}

// stageInput copies the source file into the job's input directory and
// records its fingerprint.
func (p *Pipeline) stageInput(ctx context.Context, job *model.Job, dirs jobDirs) (string, error) {
	inputPath := filepath.Join(dirs.input, filepath.Base(job.SourceFile))
	if job.SourceFile != inputPath {
		if err := copyFile(job.SourceFile, inputPath); err != nil {
			return "", err
		}
	}

	sum, size, err := fingerprint(inputPath)
	if err != nil {
		return "", err
	}
	p.recorder.RecordInput(ctx, model.InputFingerprint{
		JobID:     job.ID,
		Path:      inputPath,
		SHA256:    sum,
		SizeBytes: size,
		CreatedAt: time.Now().UTC(),
	})
	return inputPath, nil
}

func (p *Pipeline) readSource(ctx context.Context, path string, sourceType model.SourceType) (*model.Bronze, error) {
	switch sourceType {
	case model.SourceTypeExcel:
		return p.excel.Read(path)
	case model.SourceTypePDF:
		return p.document.Read(ctx, path)
	default:
		return nil, eris.Errorf("pipeline: unsupported source type %q", sourceType)
	}
}

// transformStage runs segmentation, classification, batching, transformation,
// validation, and optional enrichment. A failing segment is skipped; the
// remaining segments still produce output.
func (p *Pipeline) transformStage(ctx context.Context, job *model.Job, bronze *model.Bronze, log *zap.Logger) (systems []model.System, costUSD float64, warnCount, enriched int, err error) {
	segments := segment.FromBronze(bronze)

	var batches []segment.Segment
	for _, seg := range segments {
		verdict := p.classifier.Classify(seg)
		if verdict.Skip {
			log.Info("pipeline: skipping segment",
				zap.String("segment", seg.Name),
				zap.String("reason", verdict.Reason))
			continue
		}
		batches = append(batches, segment.SplitRecords(seg, p.cfg.Batch.MaxRecords)...)
	}

	p.progress(ctx, job.ID, "stage2_transforming", 0,
		fmt.Sprintf("transforming %d segments", len(batches)), log)

	transformer := p.transformer
	if job.Options.Model != "" {
		if o, ok := transformer.(interface{ WithModel(string) *transform.Transformer }); ok {
			transformer = o.WithModel(job.Options.Model)
		}
	}

	for _, batch := range batches {
		res, terr := transformer.TransformSegment(ctx, job.ID, batch, bronze.SourceType)
		if terr != nil {
			segErr := &SegmentError{Segment: batch.Name, Err: terr}
			log.Warn("pipeline: segment transformation failed",
				zap.String("segment", batch.Name),
				zap.Error(segErr))
			warnCount++
			continue
		}
		systems = append(systems, res.Systems...)
		costUSD += res.Call.CostUSD
	}

	vr := validate.Silver(&model.Silver{Systems: systems})
	warnCount += len(vr.Warnings) + len(vr.Errors)

	if job.Options.Enrich && p.enricher != nil {
		systems, enriched = p.enricher.EnrichSystems(ctx, systems)
	}
	return systems, costUSD, warnCount, enriched, nil
}

func (p *Pipeline) setStatus(ctx context.Context, jobID string, status model.JobStatus, log *zap.Logger) {
	if err := p.store.UpdateJobStatus(ctx, jobID, status, ""); err != nil {
		log.Warn("pipeline: failed to update status",
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func (p *Pipeline) progress(ctx context.Context, jobID, stage string, percent int, message string, log *zap.Logger) {
	err := p.store.UpdateJobProgress(ctx, jobID, model.Progress{
		Stage:   stage,
		Percent: percent,
		Message: message,
	})
	if err != nil {
		log.Warn("pipeline: failed to update progress", zap.Error(err))
	}
}

// helpers

func writeArtifact(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "pipeline: marshal artifact %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write artifact %s", path)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "pipeline: open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return eris.Wrapf(err, "pipeline: create %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return eris.Wrapf(err, "pipeline: copy to %s", dst)
	}
	return nil
}

func fingerprint(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, eris.Wrapf(err, "pipeline: open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, eris.Wrapf(err, "pipeline: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
