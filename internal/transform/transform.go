// Package transform implements the bronze-to-silver transformation engine:
// prompt assembly per segment, the engine call with rate limiting and
// transport-only retry, and response parsing into silver systems.
package transform

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/keystone-supply/catalog-etl/internal/config"
	"github.com/keystone-supply/catalog-etl/internal/lineage"
	"github.com/keystone-supply/catalog-etl/internal/model"
	"github.com/keystone-supply/catalog-etl/internal/resilience"
	"github.com/keystone-supply/catalog-etl/internal/segment"
	"github.com/keystone-supply/catalog-etl/pkg/anthropic"
)

//go:embed prompts/excel.md
var excelPrompt string

//go:embed prompts/pdf.md
var pdfPrompt string

// ErrMissingSystems indicates the engine returned parseable JSON without the
// required top-level "systems" key. This is a schema violation, never retried.
var ErrMissingSystems = eris.New("transform: response missing 'systems' key")

// sparseColumnThreshold is the minimum fraction of records that must carry a
// non-null value for a column to survive pruning on flattened document data.
const sparseColumnThreshold = 0.05

// Result is the outcome of transforming one segment.
type Result struct {
	Systems []model.System
	Call    model.LLMCall
}

// Transformer turns classified bronze segments into silver systems via the
// transformation engine. Safe for concurrent use.
type Transformer struct {
	client   anthropic.Client
	cfg      config.TransformConfig
	model    string
	limiter  *rate.Limiter
	recorder lineage.Recorder
	retry    resilience.RetryConfig
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithRecorder sets the lineage sink. Defaults to lineage.Noop.
func WithRecorder(r lineage.Recorder) Option {
	return func(t *Transformer) { t.recorder = r }
}

// WithRetryConfig overrides the retry policy. Used by tests to shrink
// backoff delays.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(t *Transformer) { t.retry = cfg }
}

// New creates a Transformer using modelID for all engine calls and a token
// bucket sized from requestsPerMinute.
func New(client anthropic.Client, cfg config.TransformConfig, modelID string, requestsPerMinute int, opts ...Option) *Transformer {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 50
	}
	t := &Transformer{
		client:   client,
		cfg:      cfg,
		model:    modelID,
		limiter:  rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
		recorder: lineage.Noop{},
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithModel returns a transformer that uses modelID instead of the
// configured default. The rate limiter is shared with the receiver, so
// per-job overrides still count against the same request budget.
func (t *Transformer) WithModel(modelID string) *Transformer {
	if modelID == "" || modelID == t.model {
		return t
	}
	clone := *t
	clone.model = modelID
	return &clone
}

// TransformSegment runs one segment through the engine and parses the
// response into silver systems. Only transport failures are retried; API
// status errors and schema violations surface immediately. The returned
// LLMCall is also forwarded to the lineage recorder.
func (t *Transformer) TransformSegment(ctx context.Context, jobID string, seg segment.Segment, sourceType model.SourceType) (*Result, error) {
	prompt, err := t.buildPrompt(seg, sourceType)
	if err != nil {
		return nil, err
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "transform: rate limit wait")
	}

	retryCfg := t.retry
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "transform")

	temp := t.cfg.Temperature
	start := time.Now()
	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return t.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       t.model,
			MaxTokens:   t.cfg.MaxTokens,
			Temperature: &temp,
			Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		})
	})
	duration := time.Since(start)
	if err != nil {
		return nil, eris.Wrapf(err, "transform: segment %q", seg.Name)
	}

	systems, err := parseSystems(resp.Text())
	if err != nil {
		return nil, eris.Wrapf(err, "transform: segment %q", seg.Name)
	}

	call := model.LLMCall{
		JobID:        jobID,
		Segment:      seg.Name,
		Model:        t.model,
		PromptHash:   promptHash(prompt),
		TraceID:      resp.ID,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      resp.Usage.EstimateCost(t.model),
		DurationMS:   duration.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	t.recorder.RecordLLMCall(ctx, call)
	resp.Usage.LogCost(t.model, seg.Name)

	zap.L().Info("segment transformed",
		zap.String("segment", seg.Name),
		zap.Int("input_size", seg.Size()),
		zap.Int("systems", len(systems)),
		zap.Duration("duration", duration),
	)

	return &Result{Systems: systems, Call: call}, nil
}

// buildPrompt assembles the full prompt for a segment: template, source
// context, compact JSON input, and the output instruction.
func (t *Transformer) buildPrompt(seg segment.Segment, sourceType model.SourceType) (string, error) {
	if seg.Table != nil {
		return buildCellPrompt(pdfPrompt, seg.Name, seg.Table)
	}

	template := excelPrompt
	records := seg.Records
	if sourceType == model.SourceTypePDF {
		template = pdfPrompt
		records = PruneSparseColumns(records, sparseColumnThreshold)
	}
	return buildRecordPrompt(template, seg.Name, records)
}

func buildRecordPrompt(template, name string, records []model.Record) (string, error) {
	payload, err := json.Marshal(records)
	if err != nil {
		return "", eris.Wrap(err, "transform: marshal records")
	}

	sourceContext := fmt.Sprintf(`
## SOURCE CONTEXT

You are processing source: **%s**
Total records in this batch: %d
`, name, len(records))

	input := fmt.Sprintf(`
## INPUT DATA (Bronze Layer JSON)

%s
`, payload)

	instruction := `

Transform the above bronze layer data into silver layer format following the schema and guidelines provided above.
Remember to output ONLY the JSON object (starting with { and ending with }).
`

	return template + sourceContext + input + instruction, nil
}

func buildCellPrompt(template, name string, table *model.Table) (string, error) {
	payload, err := json.Marshal(struct {
		TableID string       `json:"table_id"`
		Cells   []model.Cell `json:"cells"`
	}{TableID: table.TableID, Cells: table.Cells})
	if err != nil {
		return "", eris.Wrap(err, "transform: marshal cells")
	}

	sourceContext := fmt.Sprintf(`
## SOURCE CONTEXT

You are processing PDF table: **%s**
Total cells in this table: %d

Each cell has:
- text: The cell content
- row, col: Position in the table (0-indexed)
- row_span, col_span: How many rows/columns the cell spans
- is_column_header: True if this is a column header
- is_row_header: True if this is a row header

Use the cell positions and header flags to understand the table structure.
`, name, len(table.Cells))

	input := fmt.Sprintf(`
## INPUT DATA (Bronze Layer JSON - Cell Format)

%s
`, payload)

	instruction := `

Transform the above bronze layer data into silver layer format following the schema and guidelines provided above.
Use the cell positions (row, col) and header flags to reconstruct the table structure.
Remember to output ONLY the JSON object (starting with { and ending with }).
`

	return template + sourceContext + input + instruction, nil
}

// parseSystems extracts the systems array from an engine response. Parsing
// happens after the retry loop: a malformed or incomplete response is a
// terminal failure for the segment.
func parseSystems(raw string) ([]model.System, error) {
	cleaned := CleanJSON(raw)

	var payload struct {
		Systems *[]model.System `json:"systems"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, eris.Wrap(err, "transform: parse response")
	}
	if payload.Systems == nil {
		return nil, ErrMissingSystems
	}
	return *payload.Systems, nil
}

// PruneSparseColumns drops columns where fewer than threshold of the records
// carry a meaningful value. Flattened document grids often have columns that
// are empty in nearly every row; dropping them shrinks prompts considerably.
func PruneSparseColumns(records []model.Record, threshold float64) []model.Record {
	if len(records) == 0 {
		return records
	}

	counts := map[string]int{}
	for i := range records {
		for _, f := range records[i].Fields {
			if _, ok := counts[f.Key]; !ok {
				counts[f.Key] = 0
			}
			if !f.Value.IsEmpty() {
				counts[f.Key]++
			}
		}
	}
	total := len(records)

	keep := map[string]bool{}
	for key, n := range counts {
		if float64(n)/float64(total) >= threshold {
			keep[key] = true
		}
	}

	out := make([]model.Record, len(records))
	for i := range records {
		var rec model.Record
		for _, f := range records[i].Fields {
			if keep[f.Key] {
				rec.Set(f.Key, f.Value)
			}
		}
		out[i] = rec
	}

	dropped := len(counts) - len(keep)
	if dropped > 0 {
		zap.L().Info("pruned sparse columns",
			zap.Int("before", len(counts)),
			zap.Int("after", len(keep)),
			zap.Int("dropped", dropped),
		)
	}
	return out
}

// promptHash returns a short stable fingerprint of a prompt for lineage.
func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}
