// Package docling provides a client for a docling-serve table structure
// endpoint, which recognizes cell grids in scanned catalog documents.
package docling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/keystone-supply/catalog-etl/internal/resilience"
)

// Client defines the table structure engine operations.
type Client interface {
	// ExtractTables submits a document and returns every recognized table
	// with its full cell grid.
	ExtractTables(ctx context.Context, path string) (*ExtractResponse, error)
}

// ExtractResponse is the parsed engine response.
type ExtractResponse struct {
	Filename string  `json:"filename"`
	Tables   []Table `json:"tables"`
}

// Table is one recognized cell grid.
type Table struct {
	TableID string `json:"table_id"`
	Cells   []Cell `json:"cells"`
}

// Cell is a single positioned cell with structure flags.
type Cell struct {
	Text           string `json:"text"`
	Row            int    `json:"row"`
	Col            int    `json:"col"`
	RowSpan        int    `json:"row_span"`
	ColSpan        int    `json:"col_span"`
	IsColumnHeader bool   `json:"is_column_header"`
	IsRowHeader    bool   `json:"is_row_header"`
}

// Option configures the docling client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a docling-serve client. Table recognition on large
// catalogs is slow, so the default timeout is generous.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) ExtractTables(ctx context.Context, path string) (*ExtractResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "docling: open %s", path)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, eris.Wrap(err, "docling: create form file")
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, eris.Wrap(err, "docling: copy file")
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "docling: close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract/tables", &body)
	if err != nil {
		return nil, eris.Wrap(err, "docling: build request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "docling: extract tables"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resilience.NewStatusError("docling", resp.StatusCode,
			fmt.Errorf("extract tables: %s", snippet))
	}

	var out ExtractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, eris.Wrap(err, "docling: decode response")
	}
	return &out, nil
}
