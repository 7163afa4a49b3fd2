package docling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-supply/catalog-etl/internal/resilience"
)

func writeTempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 stub"), 0o644))
	return path
}

func TestExtractTables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/extract/tables", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "catalog.pdf", hdr.Filename)

		json.NewEncoder(w).Encode(ExtractResponse{
			Filename: hdr.Filename,
			Tables: []Table{{
				TableID: "table_0",
				Cells: []Cell{
					{Text: "Model", Row: 0, Col: 0, RowSpan: 1, ColSpan: 1, IsColumnHeader: true},
					{Text: "GSXH503010", Row: 1, Col: 0, RowSpan: 1, ColSpan: 1},
				},
			}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.ExtractTables(context.Background(), writeTempPDF(t))
	require.NoError(t, err)
	require.Len(t, resp.Tables, 1)
	assert.Equal(t, "table_0", resp.Tables[0].TableID)
	assert.Len(t, resp.Tables[0].Cells, 2)
	assert.True(t, resp.Tables[0].Cells[0].IsColumnHeader)
}

func TestExtractTablesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.ExtractTables(context.Background(), writeTempPDF(t))
	require.Error(t, err)
	assert.True(t, resilience.IsStatus(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestExtractTablesConnectionFailure(t *testing.T) {
	c := NewClient("http://127.0.0.1:1") // nothing listens here
	_, err := c.ExtractTables(context.Background(), writeTempPDF(t))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestExtractTablesMissingFile(t *testing.T) {
	c := NewClient("http://unused")
	_, err := c.ExtractTables(context.Background(), "/nonexistent/file.pdf")
	assert.Error(t, err)
}
