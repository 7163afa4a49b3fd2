// Package segment implements the middle of stage 2: partitioning bronze
// artifacts into segments, classifying which segments hold system data, and
// splitting large segments into transformation-sized batches.
package segment

import (
	"sort"
	"strconv"
	"strings"

	"github.com/keystone-supply/catalog-etl/internal/model"
)

// Segment is one classification unit: a worksheet section (tabular sources)
// or a recognized table (document sources). Exactly one of Records or Table
// is populated.
type Segment struct {
	Name    string
	Records []model.Record
	Table   *model.Table
}

// Size returns the number of records, or rows for a cell grid.
func (s Segment) Size() int {
	if s.Table != nil {
		return s.Table.RowCount()
	}
	return len(s.Records)
}

// FromBronze partitions a bronze artifact into segments. Segmentation is an
// exact partition: every record and table lands in exactly one segment, in
// source order.
func FromBronze(b *model.Bronze) []Segment {
	if b.SourceType == model.SourceTypePDF {
		out := make([]Segment, 0, len(b.Tables))
		for i := range b.Tables {
			out = append(out, Segment{
				Name:  b.Tables[i].TableID,
				Table: &b.Tables[i],
			})
		}
		return out
	}

	out := make([]Segment, 0, len(b.Sheets))
	for _, sheet := range b.Sheets {
		out = append(out, Segment{
			Name:    sheet.Name,
			Records: sheet.Records,
		})
	}
	return out
}

// pseudoRecords converts a cell grid into one record per row with col_N keys,
// so record-based classification heuristics apply to document tables too.
func pseudoRecords(t *model.Table) []model.Record {
	byRow := map[int]*model.Record{}
	var order []int
	for _, c := range t.Cells {
		rec, ok := byRow[c.Row]
		if !ok {
			rec = &model.Record{}
			byRow[c.Row] = rec
			order = append(order, c.Row)
		}
		rec.Set("col_"+strconv.Itoa(c.Col), cellValueForClassification(c))
	}

	// Source order by row index.
	sort.Ints(order)
	out := make([]model.Record, 0, len(order))
	for _, row := range order {
		out = append(out, *byRow[row])
	}
	return out
}

func cellValueForClassification(c model.Cell) model.Value {
	s := strings.TrimSpace(c.Text)
	if s == "" {
		return model.Null()
	}
	return model.Str(s)
}
