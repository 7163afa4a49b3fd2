package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Jobs.Workers)
	assert.Equal(t, 30, cfg.Batch.MaxRecords)
	assert.Equal(t, int64(25000), cfg.Transform.MaxTokens)
	assert.InDelta(t, 0.1, cfg.Transform.Temperature, 1e-9)
	assert.InDelta(t, 0.70, cfg.Enrich.SimilarityThreshold, 1e-9)

	assert.Equal(t, 2, cfg.Extract.MinKeywordMatches)
	assert.Equal(t, 20, cfg.Extract.MaxHeaderScanRows)
	assert.Contains(t, cfg.Extract.HeaderKeywords, "tonnage")
	assert.Contains(t, cfg.Extract.HeaderKeywords, "ahri")

	assert.Equal(t, 3, cfg.Classify.MinIndicators)
	assert.Equal(t, 2, cfg.Classify.MinTableIndicators)
	assert.Contains(t, cfg.Classify.SkipNamePatterns, "dealer cost")
	assert.Contains(t, cfg.Classify.TableIndicatorKeys, "model")
	assert.NotContains(t, cfg.Classify.IndicatorKeys, "model")
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouty", Format: "json"})
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	assert.NoError(t, err)
}
