// Package db provides shared PostgreSQL helpers for bulk copy and upsert
// operations used by the warehouse loader.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Copier accepts COPY protocol inserts. Both *pgxpool.Pool and pgx.Tx
// satisfy it, so bulk fills work inside or outside a transaction.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// CopyFrom bulk-inserts rows into a table using the PostgreSQL COPY
// protocol. The identifier may be schema-qualified. Empty input is a no-op.
func CopyFrom(ctx context.Context, dst Copier, table pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := dst.CopyFrom(ctx, table, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table.Sanitize())
	}

	return n, nil
}
