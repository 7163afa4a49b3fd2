package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Docling   DoclingConfig   `yaml:"docling" mapstructure:"docling"`
	AHRI      AHRIConfig      `yaml:"ahri" mapstructure:"ahri"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Classify  ClassifyConfig  `yaml:"classify" mapstructure:"classify"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Transform TransformConfig `yaml:"transform" mapstructure:"transform"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Jobs      JobsConfig      `yaml:"jobs" mapstructure:"jobs"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// DoclingConfig holds the table structure engine endpoint settings.
type DoclingConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AHRIConfig configures the certificate directory client.
type AHRIConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	CacheDir    string `yaml:"cache_dir" mapstructure:"cache_dir"`
	DownloadDir string `yaml:"download_dir" mapstructure:"download_dir"`
	Headless    bool   `yaml:"headless" mapstructure:"headless"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExtractConfig tunes workbook header detection and sectioning. The keyword
// vocabulary is data, not code: vendors with unusual column naming get a
// config override instead of a fork.
type ExtractConfig struct {
	HeaderKeywords    []string `yaml:"header_keywords" mapstructure:"header_keywords"`
	MinKeywordMatches int      `yaml:"min_keyword_matches" mapstructure:"min_keyword_matches"`
	MaxHeaderScanRows int      `yaml:"max_header_scan_rows" mapstructure:"max_header_scan_rows"`
	MinSectionGap     int      `yaml:"min_section_gap" mapstructure:"min_section_gap"`
}

// ClassifyConfig tunes segment relevance classification.
type ClassifyConfig struct {
	SkipNamePatterns   []string `yaml:"skip_name_patterns" mapstructure:"skip_name_patterns"`
	SystemNamePatterns []string `yaml:"system_name_patterns" mapstructure:"system_name_patterns"`
	IndicatorKeys      []string `yaml:"indicator_keys" mapstructure:"indicator_keys"`
	TableIndicatorKeys []string `yaml:"table_indicator_keys" mapstructure:"table_indicator_keys"`
	SkipTablePatterns  []string `yaml:"skip_table_patterns" mapstructure:"skip_table_patterns"`
	MinIndicators      int      `yaml:"min_indicators" mapstructure:"min_indicators"`
	MinTableIndicators int      `yaml:"min_table_indicators" mapstructure:"min_table_indicators"`
	MinTableRows       int      `yaml:"min_table_rows" mapstructure:"min_table_rows"`
	SparseDensity      float64  `yaml:"sparse_density" mapstructure:"sparse_density"`
	DenseDensity       float64  `yaml:"dense_density" mapstructure:"dense_density"`
}

// BatchConfig bounds the records sent per transformation call.
type BatchConfig struct {
	MaxRecords int `yaml:"max_records" mapstructure:"max_records"`
}

// TransformConfig configures the transformation engine calls.
type TransformConfig struct {
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// EnrichConfig configures AHRI certificate enrichment.
type EnrichConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// JobsConfig configures the job scheduler and working directories.
type JobsConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	Workers   int    `yaml:"workers" mapstructure:"workers"`
	QueueSize int    `yaml:"queue_size" mapstructure:"queue_size"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catalog.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.requests_per_minute", 50)

	v.SetDefault("docling.base_url", "http://localhost:5001")
	v.SetDefault("docling.timeout_secs", 300)

	v.SetDefault("ahri.base_url", "https://ahridirectory.org")
	v.SetDefault("ahri.cache_dir", ".ahri_cache")
	v.SetDefault("ahri.download_dir", ".ahri_downloads")
	v.SetDefault("ahri.headless", true)
	v.SetDefault("ahri.timeout_secs", 60)

	v.SetDefault("extract.header_keywords", []string{
		"model", "price", "cost", "ton", "tonnage", "seer", "btu",
		"outdoor", "indoor", "furnace", "coil", "evap", "evaporator",
		"ahri", "description", "qty", "quantity",
	})
	v.SetDefault("extract.min_keyword_matches", 2)
	v.SetDefault("extract.max_header_scan_rows", 20)
	v.SetDefault("extract.min_section_gap", 3)

	v.SetDefault("classify.skip_name_patterns", []string{
		"dealer cost", "pricing", "price list", "cost sheet", "net price", "msrp",
		"toc", "table of contents", "index", "contents", "menu",
		"warranty", "terms", "terms and conditions", "notes", "instructions",
		"ahri reference only", "ahri ref only", "reference only",
		"accessories only", "parts only", "filters only", "line sets only",
		"pads only", "stands only", "brackets only",
	})
	v.SetDefault("classify.system_name_patterns", []string{
		"system", "ac ", "air conditioning", "cooling", "heating",
		"heat pump", "hp ", "hspf",
		"ductless", "mini split", "multi zone", "vrf", "vrv",
		"package", "packaged", "rtu", "rooftop",
		"single stage", "two stage", "variable", "modulating",
		"connect", "communicating", "smart",
	})
	v.SetDefault("classify.indicator_keys", []string{
		"seer", "seer2", "eer", "eer2", "hspf", "hspf2", "afue", "cop",
		"tonnage", "ton", "tons", "btu", "capacity", "cap",
		"ahri", "ahri ref", "ahri #",
		"system cost", "total price", "system price",
	})
	v.SetDefault("classify.table_indicator_keys", []string{
		"seer", "seer2", "eer", "eer2", "hspf", "hspf2", "afue", "cop",
		"tonnage", "ton", "tons", "btu", "capacity", "cap",
		"ahri", "ahri ref", "ahri #",
		"system cost", "total price", "system price", "price",
		"model", "odu", "idu", "outdoor", "indoor",
	})
	v.SetDefault("classify.skip_table_patterns", []string{
		"equipment pricing summary", "table of contents", "page", "contents",
		"highlights and usage tips", "notes", "pricebook plus",
		"index", "menu",
	})
	v.SetDefault("classify.min_indicators", 3)
	v.SetDefault("classify.min_table_indicators", 2)
	v.SetDefault("classify.min_table_rows", 3)
	v.SetDefault("classify.sparse_density", 0.15)
	v.SetDefault("classify.dense_density", 0.30)

	v.SetDefault("batch.max_records", 30)

	v.SetDefault("transform.max_tokens", 25000)
	v.SetDefault("transform.temperature", 0.1)

	v.SetDefault("enrich.enabled", false)
	v.SetDefault("enrich.similarity_threshold", 0.70)

	v.SetDefault("jobs.dir", "jobs")
	v.SetDefault("jobs.workers", 3)
	v.SetDefault("jobs.queue_size", 100)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
