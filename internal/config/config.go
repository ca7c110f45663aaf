package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"DataHarvester/internal/domain"
)

const (
	configPathEnv   = "DATA_HARVESTER_CONFIG"
	apiTokenEnv     = "DATA_HARVESTER_API_TOKEN"
	outputRootEnv   = "DATA_HARVESTER_OUTPUT_ROOT"
	metadataPathEnv = "DATA_HARVESTER_METADATA_PATH"
)

// Duration wraps time.Duration so YAML values like "45m" parse directly.
type Duration time.Duration

// UnmarshalYAML parses Go duration syntax.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds high-level settings required across the application.
type Config struct {
	Logging   LoggingConfig    `yaml:"logging"`
	API       APIConfig        `yaml:"api"`
	RateLimit RateLimitConfig  `yaml:"rateLimit"`
	Retry     RetryConfig      `yaml:"retry"`
	Harvest   HarvestConfig    `yaml:"harvest"`
	Sink      SinkConfig       `yaml:"sink"`
	Metadata  MetadataConfig   `yaml:"metadata"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// APIConfig describes the upstream API the harvester pulls from.
type APIConfig struct {
	BaseURL   string   `yaml:"baseUrl"`
	AuthToken string   `yaml:"authToken"`
	UserAgent string   `yaml:"userAgent"`
	Timeout   Duration `yaml:"timeout"`
}

// RateLimitConfig bounds the shared outbound call budget.
type RateLimitConfig struct {
	Calls        int      `yaml:"calls"`
	Period       Duration `yaml:"period"`
	SafetyMargin float64  `yaml:"safetyMargin"`
}

// RetryConfig governs transient-failure retries.
type RetryConfig struct {
	MaxAttempts int      `yaml:"maxAttempts"`
	BaseDelay   Duration `yaml:"baseDelay"`
	MaxDelay    Duration `yaml:"maxDelay"`
}

// HarvestConfig tunes the extraction loop itself.
type HarvestConfig struct {
	Concurrency int `yaml:"concurrency"`
	MaxPages    int `yaml:"maxPages"`
}

// SinkConfig describes where and how landed output is written.
type SinkConfig struct {
	Root         string `yaml:"root"`
	BatchSize    int    `yaml:"batchSize"`
	FlushRetries int    `yaml:"flushRetries"`
}

// MetadataConfig locates the extraction history store.
type MetadataConfig struct {
	Path            string `yaml:"path"`
	HistoryCapacity int    `yaml:"historyCapacity"`
}

// MetricsConfig optionally exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// EndpointConfig describes a single harvestable endpoint.
type EndpointConfig struct {
	ID                       string            `yaml:"id"`
	Category                 string            `yaml:"category"`
	OutputName               string            `yaml:"outputName"`
	Mode                     string            `yaml:"mode"`
	PageSize                 int               `yaml:"pageSize"`
	DocumentedCap            int               `yaml:"documentedCap"`
	URL                      string            `yaml:"url"`
	Mapper                   string            `yaml:"mapper"`
	MapperOptions            map[string]string `yaml:"mapperOptions"`
	Params                   map[string]string `yaml:"params"`
	OffsetParam              string            `yaml:"offsetParam"`
	LimitParam               string            `yaml:"limitParam"`
	AssumeCompleteOnFullPage bool              `yaml:"assumeCompleteOnFullPage"`
}

// Descriptor converts the YAML shape into the domain descriptor.
func (e EndpointConfig) Descriptor() domain.EndpointDescriptor {
	mode := domain.PaginationMode(e.Mode)
	if mode == "" {
		mode = domain.ModePaged
	}
	return domain.EndpointDescriptor{
		ID:                       e.ID,
		Category:                 e.Category,
		OutputName:               e.OutputName,
		Mode:                     mode,
		PageSize:                 e.PageSize,
		DocumentedCap:            e.DocumentedCap,
		URL:                      e.URL,
		Mapper:                   e.Mapper,
		MapperOptions:            e.MapperOptions,
		Params:                   e.Params,
		OffsetParam:              e.OffsetParam,
		LimitParam:               e.LimitParam,
		AssumeCompleteOnFullPage: e.AssumeCompleteOnFullPage,
	}
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(apiTokenEnv); v != "" {
		c.API.AuthToken = v
	}

	if v := os.Getenv(outputRootEnv); v != "" {
		c.Sink.Root = v
	}

	if v := os.Getenv(metadataPathEnv); v != "" {
		c.Metadata.Path = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.API.BaseURL != "" {
		base.API.BaseURL = override.API.BaseURL
	}
	if override.API.AuthToken != "" {
		base.API.AuthToken = override.API.AuthToken
	}
	if override.API.UserAgent != "" {
		base.API.UserAgent = override.API.UserAgent
	}
	if override.API.Timeout > 0 {
		base.API.Timeout = override.API.Timeout
	}

	if override.RateLimit.Calls > 0 {
		base.RateLimit.Calls = override.RateLimit.Calls
	}
	if override.RateLimit.Period > 0 {
		base.RateLimit.Period = override.RateLimit.Period
	}
	if override.RateLimit.SafetyMargin > 0 {
		base.RateLimit.SafetyMargin = override.RateLimit.SafetyMargin
	}

	if override.Retry.MaxAttempts > 0 {
		base.Retry.MaxAttempts = override.Retry.MaxAttempts
	}
	if override.Retry.BaseDelay > 0 {
		base.Retry.BaseDelay = override.Retry.BaseDelay
	}
	if override.Retry.MaxDelay > 0 {
		base.Retry.MaxDelay = override.Retry.MaxDelay
	}

	if override.Harvest.Concurrency > 0 {
		base.Harvest.Concurrency = override.Harvest.Concurrency
	}
	if override.Harvest.MaxPages > 0 {
		base.Harvest.MaxPages = override.Harvest.MaxPages
	}

	if override.Sink.Root != "" {
		base.Sink.Root = override.Sink.Root
	}
	if override.Sink.BatchSize > 0 {
		base.Sink.BatchSize = override.Sink.BatchSize
	}
	if override.Sink.FlushRetries > 0 {
		base.Sink.FlushRetries = override.Sink.FlushRetries
	}

	if override.Metadata.Path != "" {
		base.Metadata.Path = override.Metadata.Path
	}
	if override.Metadata.HistoryCapacity > 0 {
		base.Metadata.HistoryCapacity = override.Metadata.HistoryCapacity
	}

	if override.Metrics.ListenAddr != "" {
		base.Metrics.ListenAddr = override.Metrics.ListenAddr
	}

	if len(override.Endpoints) > 0 {
		base.Endpoints = override.Endpoints
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		API: APIConfig{
			BaseURL: "https://api.example.org",
			Timeout: Duration(30 * time.Second),
		},
		RateLimit: RateLimitConfig{
			Calls:        120,
			Period:       Duration(time.Minute),
			SafetyMargin: 0.2,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   Duration(time.Second),
			MaxDelay:    Duration(30 * time.Second),
		},
		Harvest: HarvestConfig{Concurrency: 4, MaxPages: 1000},
		Sink: SinkConfig{
			Root:         "data/bronze",
			BatchSize:    500,
			FlushRetries: 3,
		},
		Metadata: MetadataConfig{Path: "data/extraction_metadata.json", HistoryCapacity: 10},
		Endpoints: []EndpointConfig{
			{
				ID:         "currencies",
				Category:   "reference",
				OutputName: "currencies",
				Mode:       string(domain.ModePaged),
				PageSize:   100,
				URL:        "/v1/currencies",
				Mapper:     "json",
			},
		},
	}
}
