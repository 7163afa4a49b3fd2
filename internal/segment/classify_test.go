package segment

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-supply/catalog-etl/internal/config"
	"github.com/keystone-supply/catalog-etl/internal/model"
)

func testClassifyConfig() config.ClassifyConfig {
	return config.ClassifyConfig{
		SkipNamePatterns: []string{
			"dealer cost", "pricing", "price list", "cost sheet", "toc",
			"table of contents", "warranty", "accessories only",
		},
		SystemNamePatterns: []string{
			"system", "heat pump", "ductless", "package", "cooling",
		},
		IndicatorKeys: []string{
			"seer", "seer2", "hspf", "tonnage", "ton", "btu", "capacity",
			"ahri", "system cost", "total price",
		},
		TableIndicatorKeys: []string{
			"seer", "hspf", "tonnage", "ton", "btu", "ahri",
			"price", "model", "odu", "idu", "outdoor", "indoor",
		},
		SkipTablePatterns:  []string{"table of contents", "pricebook plus", "menu"},
		MinIndicators:      3,
		MinTableIndicators: 2,
		MinTableRows:       3,
		SparseDensity:      0.15,
		DenseDensity:       0.30,
	}
}

func rec(pairs ...string) model.Record {
	var r model.Record
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			r.Set(pairs[i], model.Null())
		} else {
			r.Set(pairs[i], model.Str(pairs[i+1]))
		}
	}
	return r
}

func TestClassifySkipsByName(t *testing.T) {
	c := NewClassifier(testClassifyConfig())
	v := c.Classify(Segment{
		Name:    "Dealer Cost Sheet",
		Records: []model.Record{rec("Model", "GSXH5", "SEER2", "15.2", "Tonnage", "2.5")},
	})
	assert.True(t, v.Skip)
	assert.Contains(t, v.Reason, "dealer cost")
}

func TestClassifyAcceptsBySystemName(t *testing.T) {
	c := NewClassifier(testClassifyConfig())
	// Sparse records, but the name is a strong accept signal.
	v := c.Classify(Segment{
		Name:    "Heat Pump Matchups",
		Records: []model.Record{rec("A", "", "B", "")},
	})
	assert.False(t, v.Skip)
}

func TestClassifyCountsIndicators(t *testing.T) {
	c := NewClassifier(testClassifyConfig())
	v := c.Classify(Segment{
		Name: "Sheet1",
		Records: []model.Record{
			rec("Model", "GSXH503010", "SEER2", "15.2", "Tonnage", "2.5", "AHRI #", "203384289"),
		},
	})
	assert.False(t, v.Skip)
	assert.Contains(t, v.Reason, "system indicators")
}

func TestClassifyFindsIndicatorsInValues(t *testing.T) {
	// Header row buried in the data: keys are useless, values carry the headers.
	c := NewClassifier(testClassifyConfig())
	v := c.Classify(Segment{
		Name: "Sheet1",
		Records: []model.Record{
			rec("Unnamed", "Model", "Unnamed_1", "SEER2", "Unnamed_2", "Tonnage", "Unnamed_3", "AHRI Ref"),
			rec("Unnamed", "GSXH503010", "Unnamed_1", "15.2", "Unnamed_2", "2.5", "Unnamed_3", "203384289"),
		},
	})
	assert.False(t, v.Skip)
}

func TestClassifyLongValuesNotHeaders(t *testing.T) {
	c := NewClassifier(testClassifyConfig())
	// Narrative text mentioning indicators must not count.
	v := c.Classify(Segment{
		Name: "Sheet1",
		Records: []model.Record{
			rec("Unnamed", "AHRI SYSTEM SELECTION TOOL WITH SEER AND TONNAGE GUIDANCE FOR DEALERS",
				"Unnamed_1", "", "Unnamed_2", "", "Unnamed_3", ""),
			rec("Unnamed", "", "Unnamed_1", "", "Unnamed_2", "", "Unnamed_3", ""),
			rec("Unnamed", "", "Unnamed_1", "", "Unnamed_2", "", "Unnamed_3", ""),
		},
	})
	assert.True(t, v.Skip)
}

func TestClassifySkipsSparse(t *testing.T) {
	c := NewClassifier(testClassifyConfig())
	v := c.Classify(Segment{
		Name: "Equipment Sheet",
		Records: []model.Record{
			rec("A", "x", "B", "", "C", "", "D", "", "E", "", "F", "", "G", "", "H", ""),
		},
	})
	assert.True(t, v.Skip)
	assert.Contains(t, v.Reason, "mostly empty")
}

func TestClassifyDenseOverride(t *testing.T) {
	c := NewClassifier(testClassifyConfig())
	// No indicators, but all cells populated: process anyway.
	v := c.Classify(Segment{
		Name: "Sheet1",
		Records: []model.Record{
			rec("A", "alpha", "B", "beta"),
			rec("A", "gamma", "B", "delta"),
		},
	})
	assert.False(t, v.Skip)
	assert.Contains(t, v.Reason, "high data density")
}

func TestClassifyEmptySegment(t *testing.T) {
	c := NewClassifier(testClassifyConfig())
	v := c.Classify(Segment{Name: "Empty"})
	assert.True(t, v.Skip)
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier(testClassifyConfig())
	seg := Segment{
		Name: "Sheet1",
		Records: []model.Record{
			rec("Model", "GSXH5", "SEER2", "15.2", "Tonnage", "2.5"),
		},
	}
	first := c.Classify(seg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify(seg))
	}
}

func gridTable(rows [][]string) *model.Table {
	t := &model.Table{TableID: "table_0"}
	for r, row := range rows {
		for col, text := range row {
			t.Cells = append(t.Cells, model.Cell{
				Text: text, Row: r, Col: col, RowSpan: 1, ColSpan: 1,
				IsColumnHeader: r == 0,
			})
		}
	}
	return t
}

func TestClassifyTableTooSmall(t *testing.T) {
	c := NewClassifier(testClassifyConfig())
	v := c.Classify(Segment{
		Name:  "table_0",
		Table: gridTable([][]string{{"Model", "Price"}, {"GSXH5", "1842"}}),
	})
	assert.True(t, v.Skip)
	assert.Contains(t, v.Reason, "too small")
}

func TestClassifyTableSkipPattern(t *testing.T) {
	c := NewClassifier(testClassifyConfig())
	v := c.Classify(Segment{
		Name: "table_3",
		Table: gridTable([][]string{
			{"Table of Contents"},
			{"Section 1"},
			{"Section 2"},
		}),
	})
	assert.True(t, v.Skip)
	assert.Contains(t, v.Reason, "skip pattern")
}

func TestClassifyTableIndicators(t *testing.T) {
	c := NewClassifier(testClassifyConfig())
	v := c.Classify(Segment{
		Name: "table_1",
		Table: gridTable([][]string{
			{"Outdoor Model", "Indoor Model", "SEER2", "AHRI"},
			{"GSXH503010", "AMST30BU1300", "15.2", "203384289"},
			{"GSXH503610", "AMST36CU1300", "15.2", "203384290"},
		}),
	})
	assert.False(t, v.Skip)
}

func TestPseudoRecordsRowOrder(t *testing.T) {
	tbl := &model.Table{Cells: []model.Cell{
		{Text: "b", Row: 1, Col: 0},
		{Text: "a", Row: 0, Col: 0},
		{Text: "c", Row: 2, Col: 0},
	}}
	recs := pseudoRecords(tbl)
	require.Len(t, recs, 3)
	for i, want := range []string{"a", "b", "c"} {
		v, ok := recs[i].Get("col_0")
		require.True(t, ok, strconv.Itoa(i))
		assert.Equal(t, want, v.Str)
	}
}
