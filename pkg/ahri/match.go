package ahri

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// ErrNoMatch indicates a results workbook held no certificate close enough
// to the requested indoor model.
var ErrNoMatch = eris.New("ahri: no matching certificate")

// suffixPattern strips trailing "+SUFFIX" option codes from directory model
// listings before comparing.
var suffixPattern = regexp.MustCompile(`\+[A-Z0-9]+.*$`)

// resultColumns maps workbook headers onto certificate fields by substring.
type resultColumns struct {
	ref      int
	seer2    int
	eer2     int
	hspf2    int
	capacity int
	indoor   int
	outdoor  int
	furnace  int
}

// MatchIndoorUnit picks the certificate for an indoor model out of a
// downloaded results workbook. An exact case-insensitive match wins
// outright; otherwise the closest normalized-similarity candidate is
// accepted only at or above threshold. Below threshold means no match,
// never a best-effort guess. When no indoor model is known the same rule
// runs against the outdoor model column instead.
func MatchIndoorUnit(outdoorModel, indoorModel, resultsPath string, threshold float64) (*Certificate, error) {
	certs, err := ParseResults(resultsPath)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, eris.Wrapf(ErrNoMatch, "ahri: empty results for %s", outdoorModel)
	}

	// With no indoor model to discriminate on, the outdoor column carries
	// the match. Same rule either way: a certificate wins on exact or
	// above-threshold similarity, never on position in the results.
	if indoorModel == "" {
		return matchColumn(certs, outdoorModel, threshold, func(c *Certificate) string { return c.OutdoorModel })
	}
	return matchColumn(certs, indoorModel, threshold, func(c *Certificate) string { return c.IndoorModel })
}

// matchColumn applies the matching rule to one model column of the parsed
// results.
func matchColumn(certs []Certificate, model string, threshold float64, column func(*Certificate) string) (*Certificate, error) {
	want := strings.ToUpper(strings.TrimSpace(model))
	for i := range certs {
		if strings.ToUpper(strings.TrimSpace(column(&certs[i]))) == want {
			zap.L().Info("exact certificate match",
				zap.String("model", model),
				zap.String("ahri_ref", certs[i].AHRIRef),
			)
			return &certs[i], nil
		}
	}

	type candidate struct {
		score      float64
		similarity float64
		cert       *Certificate
		listed     string
	}

	candidates := make([]candidate, 0, len(certs))
	for i := range certs {
		listed := strings.ToUpper(strings.TrimSpace(column(&certs[i])))
		normalized := normalizeListing(listed)

		similarity := Similarity(want, normalized)
		score := similarity
		if strings.Contains(normalized, want) || strings.Contains(want, normalized) {
			score += 0.1
		}
		candidates = append(candidates, candidate{score, similarity, &certs[i], listed})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	best := candidates[0]
	if best.similarity >= threshold {
		zap.L().Info("fuzzy certificate match",
			zap.String("model", model),
			zap.String("matched", best.listed),
			zap.Float64("similarity", best.similarity),
		)
		return best.cert, nil
	}

	zap.L().Warn("best certificate below threshold",
		zap.String("model", model),
		zap.String("closest", best.listed),
		zap.Float64("similarity", best.similarity),
		zap.Float64("threshold", threshold),
	)
	return nil, eris.Wrapf(ErrNoMatch, "ahri: closest %s at %.2f", best.listed, best.similarity)
}

// normalizeListing strips wildcard markers and trailing option codes from a
// directory model listing.
func normalizeListing(s string) string {
	s = strings.ReplaceAll(s, "*", "")
	return suffixPattern.ReplaceAllString(s, "")
}

// ParseResults reads a downloaded results workbook into certificates. The
// first row is a title banner; headers sit on the second row.
func ParseResults(path string) ([]Certificate, error) {
	file, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ahri: open results %s", path)
	}
	if len(file.Sheets) == 0 {
		return nil, eris.Errorf("ahri: results %s has no sheets", path)
	}

	sheet := file.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, nil
	}

	cols, err := mapColumns(sheet.Rows[1])
	if err != nil {
		return nil, err
	}

	var certs []Certificate
	for _, row := range sheet.Rows[2:] {
		cert := Certificate{
			AHRIRef:      cellText(row, cols.ref),
			SEER2:        cellFloat(row, cols.seer2),
			EER2:         cellFloat(row, cols.eer2),
			HSPF2:        cellFloat(row, cols.hspf2),
			Capacity:     cellInt(row, cols.capacity),
			IndoorModel:  cellText(row, cols.indoor),
			OutdoorModel: cellText(row, cols.outdoor),
			FurnaceModel: cellText(row, cols.furnace),
		}
		if cert.AHRIRef == "" {
			continue
		}
		if cert.Capacity != nil {
			t := math.Round(float64(*cert.Capacity)/12000*10) / 10
			cert.Tonnage = &t
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func mapColumns(header *xlsx.Row) (resultColumns, error) {
	cols := resultColumns{ref: -1, seer2: -1, eer2: -1, hspf2: -1, capacity: -1, indoor: -1, outdoor: -1, furnace: -1}

	for i, cell := range header.Cells {
		name := strings.TrimSpace(cell.String())
		switch {
		case strings.Contains(name, "AHRI Ref"):
			cols.ref = i
		case strings.Contains(name, "SEER2") || strings.Contains(name, "SEER 2"):
			if cols.seer2 < 0 {
				cols.seer2 = i
			}
		case strings.Contains(name, "EER2"):
			cols.eer2 = i
		case strings.Contains(name, "HSPF2"):
			cols.hspf2 = i
		case strings.Contains(name, "Cooling Capacity"):
			cols.capacity = i
		case strings.Contains(name, "Indoor Unit Model Number") && !strings.Contains(name, "Brand"):
			cols.indoor = i
		case strings.Contains(name, "Outdoor Unit Model Number") && !strings.Contains(name, "Brand"):
			cols.outdoor = i
		case strings.Contains(name, "Furnace Model Number"):
			cols.furnace = i
		}
	}

	if cols.ref < 0 {
		return cols, eris.New("ahri: results missing reference column")
	}
	if cols.seer2 < 0 {
		return cols, eris.New("ahri: results missing SEER2 column")
	}
	return cols, nil
}

func cellText(row *xlsx.Row, col int) string {
	if col < 0 || col >= len(row.Cells) {
		return ""
	}
	return strings.TrimSpace(row.Cells[col].String())
}

func cellFloat(row *xlsx.Row, col int) *float64 {
	s := cellText(row, col)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func cellInt(row *xlsx.Row, col int) *int64 {
	s := cellText(row, col)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int64(f)
	return &n
}
