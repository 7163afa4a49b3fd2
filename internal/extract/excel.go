// Package extract implements stage 1: reading vendor catalogs into bronze
// artifacts. Extraction is deliberately dumb: find headers, clean rows,
// preserve everything. Understanding the data is stage 2's job.
package extract

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/config"
	"github.com/keystone-supply/catalog-etl/internal/model"
)

// Sentinel errors for input handling. All are immediately fatal for the job.
var (
	ErrFileNotFound      = eris.New("extract: file not found")
	ErrUnsupportedFormat = eris.New("extract: unsupported file format")
	ErrNoValidSheets     = eris.New("extract: no processable sheets")
)

// SectionDelimiter joins a worksheet name with a detected section name.
const SectionDelimiter = "::"

// ExcelReader extracts tabular data from spreadsheet workbooks.
type ExcelReader struct {
	cfg config.ExtractConfig
}

// NewExcelReader creates a reader with the given heuristics.
func NewExcelReader(cfg config.ExtractConfig) *ExcelReader {
	return &ExcelReader{cfg: cfg}
}

// Read extracts every visible sheet of the workbook into a bronze artifact.
// Individual sheet failures are logged and skipped; Read fails only when the
// file itself is unreadable or no sheet yields any data.
func (r *ExcelReader) Read(path string) (*model.Bronze, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(ErrFileNotFound, "%s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "%s (want .xlsx or .xlsm)", path)
	}

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: open workbook %s", path)
	}

	bronze := &model.Bronze{
		SourceFile: filepath.Base(path),
		SourceType: model.SourceTypeExcel,
	}

	var skipped []string
	for _, sheet := range f.Sheets {
		if sheet.Hidden {
			zap.L().Debug("skipping hidden sheet", zap.String("sheet", sheet.Name))
			continue
		}

		sections := r.processSheet(sheet)
		if len(sections) == 0 {
			skipped = append(skipped, sheet.Name)
			continue
		}
		bronze.Sheets = append(bronze.Sheets, sections...)
	}

	if len(skipped) > 0 {
		zap.L().Info("skipped sheets with no extractable data",
			zap.Strings("sheets", skipped))
	}

	if len(bronze.Sheets) == 0 {
		return nil, eris.Wrapf(ErrNoValidSheets, "%s", path)
	}

	dropEmptyColumns(bronze)

	zap.L().Info("workbook extracted",
		zap.String("file", bronze.SourceFile),
		zap.Int("sections", len(bronze.Sheets)),
		zap.Int("records", bronze.RecordCount()),
	)
	return bronze, nil
}

// processSheet extracts one worksheet, splitting it into sections when it
// contains multiple stacked tables with their own header rows.
func (r *ExcelReader) processSheet(sheet *xlsx.Sheet) []model.Sheet {
	grid := sheetGrid(sheet)
	if len(grid) == 0 {
		return nil
	}

	headerRows := r.findHeaderRows(grid)

	if len(headerRows) == 1 {
		records := cleanSection(grid, headerRows[0])
		if len(records) == 0 {
			return nil
		}
		return []model.Sheet{{Name: sheet.Name, Records: records}}
	}

	zap.L().Info("multi-section sheet detected",
		zap.String("sheet", sheet.Name),
		zap.Int("sections", len(headerRows)),
	)

	var out []model.Sheet
	for i, headerIdx := range headerRows {
		end := len(grid)
		if i+1 < len(headerRows) {
			end = headerRows[i+1]
		}
		records := cleanSection(grid[headerIdx:end], 0)
		if len(records) == 0 {
			continue
		}
		name := sectionName(grid, headerIdx, i+1)
		out = append(out, model.Sheet{
			Name:    sheet.Name + SectionDelimiter + name,
			Records: records,
		})
	}
	return out
}

// sheetGrid converts a worksheet to a rectangular value grid, preserving the
// numeric/string distinction. Formula cells resolve to their cached value.
func sheetGrid(sheet *xlsx.Sheet) [][]model.Value {
	width := 0
	for _, row := range sheet.Rows {
		if len(row.Cells) > width {
			width = len(row.Cells)
		}
	}
	if width == 0 {
		return nil
	}

	grid := make([][]model.Value, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		vals := make([]model.Value, width)
		for i := range vals {
			vals[i] = model.Null()
		}
		for i, cell := range row.Cells {
			vals[i] = cellValue(cell)
		}
		grid = append(grid, vals)
	}
	return grid
}

func cellValue(cell *xlsx.Cell) model.Value {
	if cell.Type() == xlsx.CellTypeNumeric {
		if f, err := cell.Float(); err == nil {
			return model.Num(f)
		}
	}
	s := strings.TrimSpace(cell.String())
	if s == "" {
		return model.Null()
	}
	return model.Str(s)
}

// findHeaderRows scans the grid for rows that look like column headers.
// A row qualifies when enough cells contain a known header keyword, and it
// sits far enough below the previous header to rule out data rows that
// merely mention "model" or "price". The first header must appear within
// the first MaxHeaderScanRows rows; once found, the rest of the sheet is
// scanned for further section headers. Falls back to row 0.
func (r *ExcelReader) findHeaderRows(grid [][]model.Value) []int {
	var headers []int
	for idx, row := range grid {
		if len(headers) == 0 && r.cfg.MaxHeaderScanRows > 0 && idx >= r.cfg.MaxHeaderScanRows {
			break
		}
		matches := 0
		for _, v := range row {
			cell := strings.ToLower(v.Text())
			if cell == "" {
				continue
			}
			for _, kw := range r.cfg.HeaderKeywords {
				if strings.Contains(cell, kw) {
					matches++
					break
				}
			}
		}
		if matches < r.cfg.MinKeywordMatches {
			continue
		}
		if len(headers) == 0 || idx > headers[len(headers)-1]+r.cfg.MinSectionGap {
			headers = append(headers, idx)
		}
	}
	if len(headers) == 0 {
		return []int{0}
	}
	return headers
}

// sectionName pulls a section title from the row above the header, falling
// back to SECTION_N.
func sectionName(grid [][]model.Value, headerIdx, sectionNum int) string {
	if headerIdx > 0 {
		for _, v := range grid[headerIdx-1] {
			s := strings.TrimSpace(v.Text())
			if len(s) <= 2 || strings.EqualFold(s, "nan") {
				continue
			}
			name := strings.ToUpper(strings.ReplaceAll(s, " ", "_"))
			var b strings.Builder
			for _, c := range name {
				if c == '_' || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
					b.WriteRune(c)
				}
			}
			if b.Len() > 0 {
				return b.String()
			}
		}
	}
	return "SECTION_" + strconv.Itoa(sectionNum)
}

// cleanSection turns a grid slice into records: the header row supplies
// de-duplicated column names, rows above and including it are dropped, and
// blank rows are removed.
func cleanSection(grid [][]model.Value, headerIdx int) []model.Record {
	if headerIdx >= len(grid) {
		return nil
	}

	cols := columnNames(grid[headerIdx])

	var records []model.Record
	for _, row := range grid[headerIdx+1:] {
		rec := model.Record{Fields: make([]model.Field, len(cols))}
		for i, col := range cols {
			v := model.Null()
			if i < len(row) {
				v = row[i]
			}
			rec.Fields[i] = model.Field{Key: col, Value: v}
		}
		if rec.IsBlank() {
			continue
		}
		records = append(records, rec)
	}
	return records
}

// columnNames builds unique column names from a header row. Empty headers
// become "Unnamed"; repeats get an _N suffix.
func columnNames(header []model.Value) []string {
	cols := make([]string, len(header))
	seen := map[string]int{}
	for i, v := range header {
		name := strings.TrimSpace(v.Text())
		if name == "" || strings.EqualFold(name, "nan") {
			name = "Unnamed"
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			cols[i] = name + "_" + strconv.Itoa(n+1)
		} else {
			seen[name] = 0
			cols[i] = name
		}
	}
	return cols
}

// dropEmptyColumns removes columns that hold no data anywhere in the
// workbook. Keeps bronze artifacts lean before they hit the prompt budget.
func dropEmptyColumns(b *model.Bronze) {
	populated := map[string]bool{}
	for _, sheet := range b.Sheets {
		for _, rec := range sheet.Records {
			for _, f := range rec.Fields {
				if !f.Value.IsEmpty() {
					populated[f.Key] = true
				}
			}
		}
	}

	dropped := map[string]bool{}
	for si := range b.Sheets {
		for ri := range b.Sheets[si].Records {
			rec := &b.Sheets[si].Records[ri]
			kept := rec.Fields[:0]
			for _, f := range rec.Fields {
				if populated[f.Key] {
					kept = append(kept, f)
				} else {
					dropped[f.Key] = true
				}
			}
			rec.Fields = kept
		}
	}

	if len(dropped) > 0 {
		names := make([]string, 0, len(dropped))
		for k := range dropped {
			names = append(names, k)
		}
		zap.L().Info("dropped all-empty columns", zap.Strings("columns", names))
	}
}
