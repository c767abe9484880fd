package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/meghashyamc/linefinder/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const (
	MeterName = "github.com/meghashyamc/linefinder"

	exportInterval = 10 * time.Second
	initTimeout    = 5 * time.Second
)

// Metrics holds the instruments recorded by the server and the admin API.
type Metrics struct {
	connectionsAccepted metric.Int64Counter
	activeConnections   metric.Int64UpDownCounter
	responses           metric.Int64Counter
	searchDuration      metric.Float64Histogram
}

func New(meter metric.Meter) (*Metrics, error) {
	connectionsAccepted, err := meter.Int64Counter("linefinder_connections_accepted_total",
		metric.WithDescription("Connections accepted by the listener"))
	if err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}
	activeConnections, err := meter.Int64UpDownCounter("linefinder_connections_active",
		metric.WithDescription("Connections currently being handled"))
	if err != nil {
		return nil, fmt.Errorf("failed to create active connections counter: %w", err)
	}
	responses, err := meter.Int64Counter("linefinder_responses_total",
		metric.WithDescription("Responses written, by response line"))
	if err != nil {
		return nil, fmt.Errorf("failed to create responses counter: %w", err)
	}
	searchDuration, err := meter.Float64Histogram("linefinder_search_duration_ms",
		metric.WithDescription("Search time including file load in reread mode"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create search duration histogram: %w", err)
	}

	return &Metrics{
		connectionsAccepted: connectionsAccepted,
		activeConnections:   activeConnections,
		responses:           responses,
		searchDuration:      searchDuration,
	}, nil
}

// NewGlobal creates instruments from the global meter provider.
func NewGlobal() (*Metrics, error) {
	return New(otel.Meter(MeterName))
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	m.connectionsAccepted.Add(ctx, 1)
	m.activeConnections.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	m.activeConnections.Add(ctx, -1)
}

func (m *Metrics) ResponseWritten(ctx context.Context, response string) {
	m.responses.Add(ctx, 1, metric.WithAttributes(attribute.String("response", response)))
}

func (m *Metrics) SearchCompleted(ctx context.Context, algorithm string, elapsed time.Duration) {
	m.searchDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("algorithm", algorithm)))
}

// InitExporter installs a global meter provider pushing to an OTLP gRPC
// collector. An empty endpoint leaves the global no-op provider in place.
func InitExporter(ctx context.Context, service string, endpoint string, logger logger.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		logger.Info("metrics export disabled")
		return noop, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	exporter, err := otlpmetricgrpc.New(initCtx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		logger.Error("metrics exporter init failed", "endpoint", endpoint, "err", err.Error())
		return noop, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", service))
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(provider)

	logger.Info("metrics initialized", "endpoint", endpoint)
	return provider.Shutdown, nil
}
