// Package load implements stage 3: moving validated silver artifacts into
// the gold warehouse. The PostgreSQL loader flattens systems and components
// into relational tables via bulk upsert, so reprocessing a catalog updates
// rows instead of duplicating them.
package load

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/db"
	"github.com/keystone-supply/catalog-etl/internal/model"
)

const warehouseMigration = `
CREATE SCHEMA IF NOT EXISTS gold;

CREATE TABLE IF NOT EXISTS gold.systems (
	source_sheet TEXT NOT NULL DEFAULT '',
	system_id    TEXT NOT NULL,
	system_type  TEXT,
	ahri_number  TEXT,
	tonnage      DOUBLE PRECISION,
	seer2        DOUBLE PRECISION,
	eer2         DOUBLE PRECISION,
	hspf2        DOUBLE PRECISION,
	capacity_btu BIGINT,
	total_price  DOUBLE PRECISION,
	attributes   JSONB,
	metadata     JSONB,
	loaded_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (source_sheet, system_id)
);

CREATE TABLE IF NOT EXISTS gold.components (
	source_sheet   TEXT NOT NULL DEFAULT '',
	system_id      TEXT NOT NULL,
	position       INTEGER NOT NULL,
	component_type TEXT NOT NULL,
	model_number   TEXT NOT NULL,
	brand          TEXT,
	description    TEXT,
	quantity       BIGINT,
	price          DOUBLE PRECISION,
	specifications JSONB,
	PRIMARY KEY (source_sheet, system_id, position)
);

CREATE INDEX IF NOT EXISTS idx_gold_components_model ON gold.components(model_number);
`

var systemColumns = []string{
	"source_sheet", "system_id", "system_type", "ahri_number",
	"tonnage", "seer2", "eer2", "hspf2", "capacity_btu", "total_price",
	"attributes", "metadata",
}

var componentColumns = []string{
	"source_sheet", "system_id", "position", "component_type", "model_number",
	"brand", "description", "quantity", "price", "specifications",
}

// PostgresLoader writes silver systems into the gold schema.
type PostgresLoader struct {
	pool db.Pool
}

// NewPostgresLoader creates a loader on an existing pool.
func NewPostgresLoader(pool db.Pool) *PostgresLoader {
	return &PostgresLoader{pool: pool}
}

// Migrate creates the gold schema and tables.
func (l *PostgresLoader) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, warehouseMigration)
	return eris.Wrap(err, "load: migrate warehouse")
}

// Load reads a silver artifact and upserts its systems and components.
// destDir is unused: the destination is the database, and the returned
// location names the table the rows landed in.
func (l *PostgresLoader) Load(ctx context.Context, silverPath, destDir string) (int, string, error) {
	data, err := os.ReadFile(silverPath)
	if err != nil {
		return 0, "", eris.Wrapf(err, "load: read %s", silverPath)
	}

	var silver model.Silver
	if err := json.Unmarshal(data, &silver); err != nil {
		return 0, "", eris.Wrapf(err, "load: parse %s", silverPath)
	}

	systemRows, componentRows, err := flatten(silver.Systems)
	if err != nil {
		return 0, "", err
	}

	nSys, err := db.BulkUpsert(ctx, l.pool, db.UpsertConfig{
		Table:        "gold.systems",
		Columns:      systemColumns,
		ConflictKeys: []string{"source_sheet", "system_id"},
	}, systemRows)
	if err != nil {
		return 0, "", err
	}

	nComp, err := db.BulkUpsert(ctx, l.pool, db.UpsertConfig{
		Table:        "gold.components",
		Columns:      componentColumns,
		ConflictKeys: []string{"source_sheet", "system_id", "position"},
	}, componentRows)
	if err != nil {
		return 0, "", err
	}

	zap.L().Info("load: warehouse load complete",
		zap.Int64("systems", nSys),
		zap.Int64("components", nComp))
	return int(nSys + nComp), "gold.systems", nil
}

// flatten converts silver systems into row slices matching systemColumns
// and componentColumns.
func flatten(systems []model.System) (systemRows, componentRows [][]any, err error) {
	for i := range systems {
		sys := &systems[i]
		sheet := ""
		if sys.Metadata != nil {
			sheet = sys.Metadata.SourceSheet
		}

		var attrsJSON, metaJSON []byte
		if sys.Attributes != nil {
			if attrsJSON, err = json.Marshal(sys.Attributes); err != nil {
				return nil, nil, eris.Wrapf(err, "load: marshal attributes for %s", sys.SystemID)
			}
		}
		if sys.Metadata != nil {
			if metaJSON, err = json.Marshal(sys.Metadata); err != nil {
				return nil, nil, eris.Wrapf(err, "load: marshal metadata for %s", sys.SystemID)
			}
		}

		row := []any{sheet, sys.SystemID, nil, nil, nil, nil, nil, nil, nil, nil, attrsJSON, metaJSON}
		if a := sys.Attributes; a != nil {
			row[2] = a.SystemType
			row[3] = a.AHRINumber
			row[4] = a.Tonnage
			row[5] = a.SEER2
			row[6] = a.EER2
			row[7] = a.HSPF2
			row[8] = a.CapacityBTU
			row[9] = a.TotalPrice
		}
		systemRows = append(systemRows, row)

		for pos := range sys.Components {
			c := &sys.Components[pos]
			var specsJSON []byte
			if c.Specifications != nil {
				if specsJSON, err = json.Marshal(c.Specifications); err != nil {
					return nil, nil, eris.Wrapf(err, "load: marshal specifications for %s", sys.SystemID)
				}
			}
			componentRows = append(componentRows, []any{
				sheet, sys.SystemID, pos, c.ComponentType, c.ModelNumber,
				c.Brand, c.Description, c.Quantity, c.Price, specsJSON,
			})
		}
	}
	return systemRows, componentRows, nil
}
