// Package metrics provides an OpenTelemetry implementation of
// jstrack.Observer.
package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/strongdm/jstrack/pkg/jstrack"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExporterType defines the type of metrics exporter to use.
type ExporterType string

const (
	// ExporterNone disables metrics (no-op).
	ExporterNone ExporterType = "none"
	// ExporterStdout exports metrics to stdout (useful for debugging).
	ExporterStdout ExporterType = "stdout"
	// ExporterOTLPGRPC exports metrics via OTLP over gRPC.
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterOTLPHTTP exports metrics via OTLP over HTTP.
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// Config holds configuration for the metrics observer.
type Config struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional resource attributes.
	Attributes map[string]string
}

// DefaultConfig returns a configuration with metrics disabled.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      false,
		ServiceName:  "jstrack",
		ExporterType: ExporterNone,
	}
}

// Metrics records pipeline activity as OpenTelemetry instruments.
type Metrics struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.Mutex

	captured  metric.Int64Counter
	discarded metric.Int64Counter
	flushes   metric.Int64Counter
	batchSize metric.Int64Histogram
}

var _ jstrack.Observer = (*Metrics)(nil)

// New creates a Metrics instance with the given configuration.
func New(ctx context.Context, cfg *Config) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	return newWithReader(m, sdkmetric.NewPeriodicReader(exporter))
}

// NewWithReader creates an enabled Metrics instance that reports through
// reader instead of a configured exporter.
func NewWithReader(cfg *Config, reader sdkmetric.Reader) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return newWithReader(&Metrics{config: cfg}, reader)
}

func newWithReader(m *Metrics, reader sdkmetric.Reader) (*Metrics, error) {
	res, err := createResource(m.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(m.config.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}
	return m, nil
}

func createExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func createResource(cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

func (m *Metrics) registerInstruments() error {
	var err error

	m.captured, err = m.meter.Int64Counter(
		"jstrack.records.captured",
		metric.WithDescription("Count of classified records by kind"),
	)
	if err != nil {
		return fmt.Errorf("failed to create captured counter: %w", err)
	}

	m.discarded, err = m.meter.Int64Counter(
		"jstrack.records.discarded",
		metric.WithDescription("Count of records dropped before delivery by kind and reason"),
	)
	if err != nil {
		return fmt.Errorf("failed to create discarded counter: %w", err)
	}

	m.flushes, err = m.meter.Int64Counter(
		"jstrack.flushes",
		metric.WithDescription("Count of sink deliveries by outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create flush counter: %w", err)
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"jstrack.batch.size",
		metric.WithDescription("Number of records per delivered batch"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create batch size histogram: %w", err)
	}

	return nil
}

func kindLabel(kind jstrack.Kind) string {
	if !kind.Valid() {
		return "unknown"
	}
	return kind.String()
}

// Captured implements jstrack.Observer.
func (m *Metrics) Captured(kind jstrack.Kind) {
	if m.captured == nil {
		return
	}
	m.captured.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kindLabel(kind)),
	))
}

// Discarded implements jstrack.Observer.
func (m *Metrics) Discarded(kind jstrack.Kind, reason jstrack.DiscardReason) {
	if m.discarded == nil {
		return
	}
	m.discarded.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kindLabel(kind)),
		attribute.String("reason", string(reason)),
	))
}

// Flushed implements jstrack.Observer.
func (m *Metrics) Flushed(size int, err error) {
	if m.flushes == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ctx := context.Background()
	m.flushes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.batchSize.Record(ctx, int64(size))
}

// Shutdown flushes pending metrics and stops the provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown != nil {
		err := m.shutdown(ctx)
		m.shutdown = nil
		return err
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.captured != nil
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}
