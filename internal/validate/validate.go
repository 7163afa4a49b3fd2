// Package validate schema-checks silver layer documents. Validation never
// halts the pipeline: callers proceed regardless and use the result for
// reporting, so hard schema violations and advisory warnings are kept apart.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/model"
)

// Result is the outcome of validating one silver document.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Stats    Stats    `json:"stats"`
}

// Stats aggregates counts over the validated document.
type Stats struct {
	TotalSystems           int            `json:"total_systems"`
	TotalComponents        int            `json:"total_components"`
	AvgComponentsPerSystem float64        `json:"avg_components_per_system"`
	ComponentTypes         map[string]int `json:"component_types"`
	SystemTypes            map[string]int `json:"system_types"`
	DataQuality            map[string]int `json:"data_quality"`
}

// modelNumberPlaceholders are values that look present but carry no model.
var modelNumberPlaceholders = []string{"", "N/A", "nan"}

// Silver validates a typed silver artifact by round-tripping it through its
// JSON form, so the same checks apply to in-memory and on-disk documents.
func Silver(s *model.Silver) Result {
	data, err := json.Marshal(s)
	if err != nil {
		return Result{Errors: []string{eris.Wrap(err, "validate: marshal silver").Error()}}
	}
	return Document(data)
}

// Document validates raw silver layer JSON. A malformed root (not an object,
// missing or non-array "systems") is fatal and short-circuits; everything
// else accumulates into errors and warnings.
func Document(data []byte) Result {
	res := Result{Errors: []string{}, Warnings: []string{}}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		res.Errors = append(res.Errors, "root is not valid JSON")
		return res
	}

	doc, ok := root.(map[string]any)
	if !ok {
		res.Errors = append(res.Errors, "root must be an object")
		return res
	}

	rawSystems, ok := doc["systems"]
	if !ok {
		res.Errors = append(res.Errors, "missing 'systems' key at root level")
		return res
	}

	systems, ok := rawSystems.([]any)
	if !ok {
		res.Errors = append(res.Errors, "'systems' must be an array")
		return res
	}

	for i, sys := range systems {
		validateSystem(sys, i, &res)
	}

	res.Stats = collectStats(systems)
	res.Valid = len(res.Errors) == 0

	logResult(&res)
	return res
}

func validateSystem(raw any, index int, res *Result) {
	system, ok := raw.(map[string]any)
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("system %d: must be an object", index))
		return
	}

	if id, ok := system["system_id"]; !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("system %d: missing required field 'system_id'", index))
	} else if s, _ := id.(string); s == "" {
		res.Errors = append(res.Errors, fmt.Sprintf("system %d: 'system_id' cannot be empty", index))
	}

	if comps, ok := system["components"]; !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("system %d: missing required field 'components'", index))
	} else if list, ok := comps.([]any); !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("system %d: 'components' must be an array", index))
	} else if len(list) == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("system %d: must have at least one component", index))
	} else {
		for j, comp := range list {
			validateComponent(comp, index, j, res)
		}
	}

	if meta, ok := system["metadata"]; !ok || meta == nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("system %d: missing 'metadata' field", index))
	} else if m, ok := meta.(map[string]any); ok {
		if s, _ := m["source_sheet"].(string); s == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("system %d: 'metadata' missing 'source_sheet'", index))
		}
	}

	attrs, present := system["system_attributes"]
	if !present || attrs == nil {
		return
	}

	attrMap, ok := attrs.(map[string]any)
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("system %d: 'system_attributes' must be an object or null", index))
		return
	}

	checkNumeric(attrMap, "tonnage", index, res)
	checkNumeric(attrMap, "total_price", index, res)

	if v, ok := attrMap["capacity_btu"]; ok && v != nil {
		if !isInteger(v) {
			res.Errors = append(res.Errors, fmt.Sprintf("system %d: 'capacity_btu' must be an integer", index))
		}
	}

	if v, ok := attrMap["system_type"]; ok && v != nil {
		s, _ := v.(string)
		if !slices.Contains(model.SystemTypes, s) {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("system %d: 'system_type' should be one of %v, got %q", index, model.SystemTypes, v))
		}
	}
}

func validateComponent(raw any, sysIndex, compIndex int, res *Result) {
	comp, ok := raw.(map[string]any)
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("system %d, component %d: must be an object", sysIndex, compIndex))
		return
	}

	if v, ok := comp["component_type"]; !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("system %d, component %d: missing 'component_type'", sysIndex, compIndex))
	} else {
		s, _ := v.(string)
		if !slices.Contains(model.ComponentTypes, s) {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("system %d, component %d: 'component_type' should be one of %v, got %q",
					sysIndex, compIndex, model.ComponentTypes, v))
		}
	}

	if v, ok := comp["model_number"]; !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("system %d, component %d: missing 'model_number'", sysIndex, compIndex))
	} else {
		s, isStr := v.(string)
		if !isStr || slices.Contains(modelNumberPlaceholders, s) {
			res.Errors = append(res.Errors,
				fmt.Sprintf("system %d, component %d: invalid 'model_number': %v", sysIndex, compIndex, v))
		}
	}

	if v, ok := comp["price"]; ok && v != nil {
		n, isNum := v.(json.Number)
		if !isNum {
			res.Errors = append(res.Errors, fmt.Sprintf("system %d, component %d: 'price' must be a number", sysIndex, compIndex))
		} else if f, err := n.Float64(); err == nil && f < 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("system %d, component %d: negative price: %v", sysIndex, compIndex, v))
		}
	}
}

func checkNumeric(m map[string]any, key string, index int, res *Result) {
	v, ok := m[key]
	if !ok || v == nil {
		return
	}
	if _, isNum := v.(json.Number); !isNum {
		res.Errors = append(res.Errors, fmt.Sprintf("system %d: '%s' must be a number", index, key))
	}
}

func isInteger(v any) bool {
	n, ok := v.(json.Number)
	if !ok {
		return false
	}
	// "30000.0" fails the int parse even though the value is whole; the
	// engine is told capacity_btu is an integer, so hold it to that.
	_, err := n.Int64()
	return err == nil
}

func collectStats(systems []any) Stats {
	stats := Stats{
		TotalSystems:   len(systems),
		ComponentTypes: map[string]int{},
		SystemTypes:    map[string]int{},
		DataQuality:    map[string]int{"high": 0, "medium": 0, "low": 0},
	}

	for _, raw := range systems {
		system, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		if comps, ok := system["components"].([]any); ok {
			stats.TotalComponents += len(comps)
			for _, c := range comps {
				comp, ok := c.(map[string]any)
				if !ok {
					continue
				}
				ct, _ := comp["component_type"].(string)
				if ct == "" {
					ct = model.SystemTypeUnknown
				}
				stats.ComponentTypes[ct]++
			}
		}

		if attrs, ok := system["system_attributes"].(map[string]any); ok {
			st, _ := attrs["system_type"].(string)
			if st == "" {
				st = model.SystemTypeUnknown
			}
			stats.SystemTypes[st]++
		}

		if meta, ok := system["metadata"].(map[string]any); ok {
			quality, _ := meta["data_quality"].(string)
			if quality == "" {
				quality = "medium"
			}
			if _, known := stats.DataQuality[quality]; known {
				stats.DataQuality[quality]++
			}
		}
	}

	if stats.TotalSystems > 0 {
		avg := float64(stats.TotalComponents) / float64(stats.TotalSystems)
		stats.AvgComponentsPerSystem = math.Round(avg*100) / 100
	}
	return stats
}

func logResult(res *Result) {
	if len(res.Errors) > 0 {
		zap.L().Warn("validation found errors", zap.Int("errors", len(res.Errors)))
		for i, e := range res.Errors {
			if i >= 5 {
				zap.L().Warn("additional errors omitted", zap.Int("omitted", len(res.Errors)-5))
				break
			}
			zap.L().Warn("validation error", zap.String("detail", e))
		}
	}
	if len(res.Warnings) > 0 {
		zap.L().Info("validation found warnings", zap.Int("warnings", len(res.Warnings)))
	}
}
