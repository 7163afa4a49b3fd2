package segment

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/config"
	"github.com/keystone-supply/catalog-etl/internal/model"
)

// Verdict is the classification outcome for one segment.
type Verdict struct {
	Segment string `json:"segment"`
	Skip    bool   `json:"skip"`
	Reason  string `json:"reason"`
	Records int    `json:"records"`
}

// Classifier decides which segments plausibly hold matched-system data and
// which are pricing grids, TOCs, warranty text, or accessory lists. All
// checks are cheap string heuristics; anything ambiguous but dense is passed
// through and left for the transformation engine to sort out.
type Classifier struct {
	cfg config.ClassifyConfig
}

// NewClassifier creates a classifier with the given vocabulary.
func NewClassifier(cfg config.ClassifyConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify runs the ordered checks for a segment. The same input always
// yields the same verdict.
func (c *Classifier) Classify(seg Segment) Verdict {
	var v Verdict
	if seg.Table != nil {
		v = c.classifyTable(seg)
	} else {
		v = c.classifySheet(seg)
	}

	if v.Skip {
		zap.L().Info("segment skipped",
			zap.String("segment", v.Segment),
			zap.Int("records", v.Records),
			zap.String("reason", v.Reason),
		)
	} else {
		zap.L().Info("segment accepted",
			zap.String("segment", v.Segment),
			zap.Int("records", v.Records),
			zap.String("reason", v.Reason),
		)
	}
	return v
}

func (c *Classifier) classifySheet(seg Segment) Verdict {
	v := Verdict{Segment: seg.Name, Records: len(seg.Records)}

	name := strings.ToLower(strings.TrimSpace(seg.Name))
	for _, p := range c.cfg.SkipNamePatterns {
		if strings.Contains(name, p) {
			v.Skip = true
			v.Reason = fmt.Sprintf("sheet name contains %q (skip pattern)", p)
			return v
		}
	}
	for _, p := range c.cfg.SystemNamePatterns {
		if strings.Contains(name, p) {
			v.Reason = "sheet name suggests system data"
			return v
		}
	}

	v.Skip, v.Reason = c.checkStructure(seg.Records, c.cfg.IndicatorKeys, c.cfg.MinIndicators, seg.Name)
	return v
}

func (c *Classifier) classifyTable(seg Segment) Verdict {
	records := pseudoRecords(seg.Table)
	v := Verdict{Segment: seg.Name, Records: len(records)}

	if len(records) < c.cfg.MinTableRows {
		v.Skip = true
		v.Reason = fmt.Sprintf("too small (%d rows, need %d+)", len(records), c.cfg.MinTableRows)
		return v
	}

	// Skip/system patterns live in the cell data itself; tables have no
	// meaningful names to match against.
	if skip, reason, decided := c.checkTablePatterns(records); decided {
		v.Skip = skip
		v.Reason = reason
		return v
	}

	v.Skip, v.Reason = c.checkStructure(records, c.cfg.TableIndicatorKeys, c.cfg.MinTableIndicators, seg.Name)
	return v
}

// checkTablePatterns scans the first rows for skip and system patterns in
// key+value text. Returns decided=false when neither matched.
func (c *Classifier) checkTablePatterns(records []model.Record) (skip bool, reason string, decided bool) {
	sample := records
	if len(sample) > 5 {
		sample = sample[:5]
	}
	for _, rec := range sample {
		for _, f := range rec.Fields {
			combined := strings.ToLower(f.Key + " " + f.Value.Text())
			for _, p := range c.cfg.SkipTablePatterns {
				if strings.Contains(combined, p) {
					return true, fmt.Sprintf("contains %q (skip pattern)", p), true
				}
			}
			for _, p := range c.cfg.SystemNamePatterns {
				if strings.Contains(combined, p) {
					return false, "table data suggests system data", true
				}
			}
		}
	}
	return false, "", false
}

// checkStructure applies the indicator count and density rules.
func (c *Classifier) checkStructure(records []model.Record, indicators []string, minIndicators int, name string) (skip bool, reason string) {
	if len(records) == 0 {
		return true, "segment is empty"
	}

	found := c.countIndicators(records, indicators)
	if found >= minIndicators {
		return false, fmt.Sprintf("has %d system indicators", found)
	}

	density := nonNullRatio(records)
	if density < c.cfg.SparseDensity {
		return true, fmt.Sprintf("mostly empty (%.0f%% non-null), likely reference data", density*100)
	}
	if density >= c.cfg.DenseDensity {
		zap.L().Warn("dense segment with few indicators, processing anyway",
			zap.String("segment", name),
			zap.Int("indicators", found),
			zap.Float64("density", density),
		)
		return false, fmt.Sprintf("high data density (%.0f%%) despite %d indicators", density*100, found)
	}
	return true, fmt.Sprintf("only %d system indicators found (need %d)", found, minIndicators)
}

// countIndicators counts distinct indicator keywords found either as short
// cell values in the first 10 records (headers buried in the data) or as
// populated column keys in the first 5.
func (c *Classifier) countIndicators(records []model.Record, indicators []string) int {
	found := map[string]bool{}

	valueScan := records
	if len(valueScan) > 10 {
		valueScan = valueScan[:10]
	}
	for _, rec := range valueScan {
		for _, f := range rec.Fields {
			if f.Value.Kind != model.ValueString {
				continue
			}
			val := strings.ToLower(strings.TrimSpace(f.Value.Str))
			// Long strings are narrative text, not headers.
			if len(val) >= 30 {
				continue
			}
			for _, ind := range indicators {
				if strings.Contains(val, ind) {
					found[ind] = true
					break
				}
			}
		}
	}

	keyScan := records
	if len(keyScan) > 5 {
		keyScan = keyScan[:5]
	}
	for _, rec := range keyScan {
		for _, f := range rec.Fields {
			if f.Value.IsEmpty() {
				continue
			}
			key := strings.ToLower(strings.TrimSpace(f.Key))
			for _, ind := range indicators {
				if strings.Contains(key, ind) {
					found[ind] = true
					break
				}
			}
		}
	}

	return len(found)
}

// nonNullRatio measures data density over the first 5 records.
func nonNullRatio(records []model.Record) float64 {
	sample := records
	if len(sample) > 5 {
		sample = sample[:5]
	}

	total, nonNull := 0, 0
	for _, rec := range sample {
		for _, f := range rec.Fields {
			total++
			if f.Value.IsEmpty() {
				continue
			}
			if f.Value.Kind == model.ValueString {
				s := strings.ToLower(strings.TrimSpace(f.Value.Str))
				if s == "n/a" || s == "null" {
					continue
				}
			}
			nonNull++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(nonNull) / float64(total)
}
