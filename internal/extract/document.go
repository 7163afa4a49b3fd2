package extract

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/model"
	"github.com/keystone-supply/catalog-etl/pkg/docling"
)

// DocumentReader extracts cell grids from scanned catalog documents via the
// table structure engine. Cells pass through verbatim; no flattening happens
// here, the transformation engine reads spans and header flags directly.
type DocumentReader struct {
	engine docling.Client
}

// NewDocumentReader creates a reader backed by the given engine.
func NewDocumentReader(engine docling.Client) *DocumentReader {
	return &DocumentReader{engine: engine}
}

// Read submits the document for table recognition and returns a bronze
// artifact of cell grids. Tables with no cells are dropped.
func (r *DocumentReader) Read(ctx context.Context, path string) (*model.Bronze, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(ErrFileNotFound, "%s", path)
	}
	if strings.ToLower(filepath.Ext(path)) != ".pdf" {
		return nil, eris.Wrapf(ErrUnsupportedFormat, "%s (want .pdf)", path)
	}

	resp, err := r.engine.ExtractTables(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: table recognition for %s", path)
	}

	bronze := &model.Bronze{
		SourceFile: filepath.Base(path),
		SourceType: model.SourceTypePDF,
	}

	for i, t := range resp.Tables {
		if len(t.Cells) == 0 {
			zap.L().Debug("skipping empty table", zap.String("table", t.TableID))
			continue
		}
		id := t.TableID
		if id == "" {
			id = "table_" + strconv.Itoa(i)
		}
		cells := make([]model.Cell, len(t.Cells))
		for j, c := range t.Cells {
			cells[j] = model.Cell{
				Text:           strings.TrimSpace(c.Text),
				Row:            c.Row,
				Col:            c.Col,
				RowSpan:        c.RowSpan,
				ColSpan:        c.ColSpan,
				IsColumnHeader: c.IsColumnHeader,
				IsRowHeader:    c.IsRowHeader,
			}
		}
		bronze.Tables = append(bronze.Tables, model.Table{TableID: id, Cells: cells})
	}

	zap.L().Info("document extracted",
		zap.String("file", bronze.SourceFile),
		zap.Int("tables", len(bronze.Tables)),
	)
	return bronze, nil
}

// DetectSourceType maps a file extension to the reader that handles it.
func DetectSourceType(path string) (model.SourceType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return model.SourceTypeExcel, nil
	case ".pdf":
		return model.SourceTypePDF, nil
	default:
		return "", eris.Wrapf(ErrUnsupportedFormat, "%s", path)
	}
}
