// Package config loads relay configuration from YAML with environment
// expansion and maps it onto pipeline options.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/strongdm/jstrack/pkg/jstrack"
	"github.com/strongdm/jstrack/pkg/jstrack/metrics"
	"gopkg.in/yaml.v3"
)

// Config is the top-level relay configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Sinks    SinksConfig    `yaml:"sinks"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// PipelineConfig mirrors jstrack.Config. Nil fields keep the pipeline
// defaults.
type PipelineConfig struct {
	BatchMode     *bool          `yaml:"batch_mode"`
	DebounceDelay *time.Duration `yaml:"debounce_delay"`
	MaxQueueSize  *int           `yaml:"max_queue_size"`
	SamplingRate  *float64       `yaml:"sampling_rate"`
	Scrub         *bool          `yaml:"scrub"`
	HostState     *bool          `yaml:"host_state"`
}

type SinksConfig struct {
	Stderr     StderrConfig     `yaml:"stderr"`
	Beacon     BeaconConfig     `yaml:"beacon"`
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	CXDB       CXDBConfig       `yaml:"cxdb"`
	Async      AsyncConfig      `yaml:"async"`
}

type StderrConfig struct {
	Enabled bool `yaml:"enabled"`
	Verbose bool `yaml:"verbose"`
}

type BeaconConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Key        string `yaml:"key"`
	MaxBatches int64  `yaml:"max_batches"`
}

type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

type CXDBConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addr      string   `yaml:"addr"`
	ContextID uint64   `yaml:"context_id"`
	Labels    []string `yaml:"labels"`
	ClientTag string   `yaml:"client_tag"`
}

// AsyncConfig wraps the combined sink in a background writer when enabled.
type AsyncConfig struct {
	Enabled   bool `yaml:"enabled"`
	QueueSize int  `yaml:"queue_size"`
}

type MetricsConfig struct {
	Exporter       string            `yaml:"exporter"`
	Endpoint       string            `yaml:"endpoint"`
	Insecure       bool              `yaml:"insecure"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Sinks: SinksConfig{
			Stderr: StderrConfig{Enabled: true},
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			ClickHouse: ClickHouseConfig{
				Host:     "localhost",
				Port:     9000,
				Database: "error_logs",
				User:     "default",
			},
			CXDB: CXDBConfig{
				Addr: "localhost:9009",
			},
		},
		Metrics: MetricsConfig{
			Exporter:    string(metrics.ExporterNone),
			ServiceName: "jstrack-relay",
		},
	}
}

// Load reads .env files, then the YAML file at path. ${VAR} references in the
// file are expanded from the environment before decoding.
func Load(path string) (*Config, error) {
	LoadDotEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands environment references in data and decodes it over Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the pipeline would otherwise silently correct and
// required fields of enabled sinks.
func (c *Config) Validate() error {
	var errs []error

	p := c.Pipeline
	if p.SamplingRate != nil && (*p.SamplingRate < 0 || *p.SamplingRate > 1) {
		errs = append(errs, fmt.Errorf("pipeline.sampling_rate must be within [0,1], got %v", *p.SamplingRate))
	}
	if p.MaxQueueSize != nil && *p.MaxQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_queue_size must be positive, got %d", *p.MaxQueueSize))
	}
	if p.DebounceDelay != nil && *p.DebounceDelay < 0 {
		errs = append(errs, fmt.Errorf("pipeline.debounce_delay must not be negative, got %s", *p.DebounceDelay))
	}

	s := c.Sinks
	if s.Beacon.Enabled && s.Beacon.URL == "" {
		errs = append(errs, errors.New("sinks.beacon.url is required"))
	}
	if s.Redis.Enabled && s.Redis.Addr == "" {
		errs = append(errs, errors.New("sinks.redis.addr is required"))
	}
	if s.ClickHouse.Enabled && s.ClickHouse.Host == "" {
		errs = append(errs, errors.New("sinks.clickhouse.host is required"))
	}
	if s.CXDB.Enabled && s.CXDB.Addr == "" {
		errs = append(errs, errors.New("sinks.cxdb.addr is required"))
	}

	switch metrics.ExporterType(c.Metrics.Exporter) {
	case "", metrics.ExporterNone, metrics.ExporterStdout, metrics.ExporterOTLPGRPC, metrics.ExporterOTLPHTTP:
	default:
		errs = append(errs, fmt.Errorf("metrics.exporter: unknown exporter %q", c.Metrics.Exporter))
	}

	return errors.Join(errs...)
}

// Options converts the pipeline section into jstrack options.
func (p PipelineConfig) Options() []jstrack.Option {
	var opts []jstrack.Option
	if p.BatchMode != nil {
		opts = append(opts, jstrack.WithBatchMode(*p.BatchMode))
	}
	if p.DebounceDelay != nil {
		opts = append(opts, jstrack.WithDebounceDelay(*p.DebounceDelay))
	}
	if p.MaxQueueSize != nil {
		opts = append(opts, jstrack.WithMaxQueueSize(*p.MaxQueueSize))
	}
	if p.SamplingRate != nil {
		opts = append(opts, jstrack.WithSamplingRate(*p.SamplingRate))
	}
	if p.Scrub == nil || *p.Scrub {
		opts = append(opts, jstrack.WithDefaultScrubbing())
	}
	if p.HostState != nil {
		opts = append(opts, jstrack.WithHostState(*p.HostState))
	}
	return opts
}

// ToMetrics converts the metrics section for metrics.New.
func (m MetricsConfig) ToMetrics() *metrics.Config {
	exporter := metrics.ExporterType(m.Exporter)
	return &metrics.Config{
		Enabled:        exporter != "" && exporter != metrics.ExporterNone,
		ServiceName:    m.ServiceName,
		ServiceVersion: m.ServiceVersion,
		ExporterType:   exporter,
		OTLPEndpoint:   m.Endpoint,
		OTLPInsecure:   m.Insecure,
		Attributes:     m.Attributes,
	}
}
