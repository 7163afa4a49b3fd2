// Package ahri wraps the AHRI certification directory behind a client
// interface: reference-number lookups scrape the certificate details page,
// model searches drive the directory's search form and download the result
// workbook. Every interaction is cached on disk so repeat lookups for the
// same search signature never touch the network.
package ahri

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Certificate is the subset of an AHRI listing the pipeline consumes.
// Nil means the directory did not publish the value.
type Certificate struct {
	AHRIRef      string   `json:"ahri_ref"`
	SEER2        *float64 `json:"seer2"`
	EER2         *float64 `json:"eer2"`
	HSPF2        *float64 `json:"hspf2"`
	Capacity     *int64   `json:"capacity"`
	Tonnage      *float64 `json:"tonnage"`
	IndoorModel  string   `json:"indoor_model,omitempty"`
	OutdoorModel string   `json:"outdoor_model,omitempty"`
	FurnaceModel string   `json:"furnace_model,omitempty"`
}

// Program identifies the directory search program for a system type.
type Program struct {
	Name string
	ID   string
}

// programMap routes system types to directory programs. Combined searches
// must be filtered by program or the result set exceeds the non-member
// download limit.
var programMap = map[string]Program{
	"AC":        {Name: "Air Conditioning", ID: "101"},
	"HP":        {Name: "Air-Source Heat Pumps", ID: "99"},
	"Heat Pump": {Name: "Air-Source Heat Pumps", ID: "99"},
}

// ProgramFor returns the directory program for a system type.
func ProgramFor(systemType string) (Program, bool) {
	p, ok := programMap[systemType]
	return p, ok
}

// Client defines the directory operations used by enrichment. Model
// searches return the path to a downloaded results workbook; matching
// within it is the caller's concern.
type Client interface {
	SearchByRef(ctx context.Context, ahriNumber string) (*Certificate, error)
	SearchByModels(ctx context.Context, outdoorModel, indoorModel, systemType string) (string, error)
	SearchByOutdoorModel(ctx context.Context, outdoorModel string) (string, error)
}

// SearchSignature returns a stable hex fingerprint for a set of search
// parameters. Cache files are keyed by it, so identical searches always
// resolve to the same path.
func SearchSignature(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	h := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(h[:])[:16]
}

// Option configures the browser-backed client.
type Option func(*browserClient)

// WithBaseURL overrides the directory URL.
func WithBaseURL(u string) Option {
	return func(c *browserClient) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithCacheDir sets the directory for cached search results.
func WithCacheDir(dir string) Option {
	return func(c *browserClient) { c.cacheDir = dir }
}

// WithDownloadDir sets the browser download directory.
func WithDownloadDir(dir string) Option {
	return func(c *browserClient) { c.downloadDir = dir }
}

// WithHeadless controls whether the browser runs headless.
func WithHeadless(headless bool) Option {
	return func(c *browserClient) { c.headless = headless }
}

// WithTimeout bounds each browser session.
func WithTimeout(d time.Duration) Option {
	return func(c *browserClient) { c.timeout = d }
}
