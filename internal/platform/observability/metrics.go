package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all render engine metrics.
type Metrics struct {
	meter metric.Meter

	// Render pass metrics
	RendersTotal   metric.Int64Counter
	RenderDuration metric.Float64Histogram
	TilesScheduled metric.Int64Counter
	TilesDrawn     metric.Int64Counter
	TilesSkipped   metric.Int64Counter

	// Tile cache metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter
	CacheSize   metric.Int64Gauge

	// WMS fetch metrics
	FetchDuration metric.Float64Histogram
	FetchErrors   metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a Metrics instance. When disabled all instruments are nil
// and the record helpers below become no-ops.
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

func (m *Metrics) initMetrics() error {
	var err error

	if m.RendersTotal, err = m.meter.Int64Counter(
		"basemap_renders_total",
		metric.WithDescription("Total render passes"),
	); err != nil {
		return err
	}

	if m.RenderDuration, err = m.meter.Float64Histogram(
		"basemap_render_duration_seconds",
		metric.WithDescription("Wall-clock duration of a render pass"),
	); err != nil {
		return err
	}

	if m.TilesScheduled, err = m.meter.Int64Counter(
		"basemap_tiles_scheduled_total",
		metric.WithDescription("Tiles scheduled for fetch/compose"),
	); err != nil {
		return err
	}

	if m.TilesDrawn, err = m.meter.Int64Counter(
		"basemap_tiles_drawn_total",
		metric.WithDescription("Tiles composited onto the destination surface"),
	); err != nil {
		return err
	}

	if m.TilesSkipped, err = m.meter.Int64Counter(
		"basemap_tiles_skipped_total",
		metric.WithDescription("Tiles abandoned due to failure or deadline"),
	); err != nil {
		return err
	}

	if m.CacheHits, err = m.meter.Int64Counter(
		"basemap_tile_cache_hits_total",
		metric.WithDescription("Tile cache hits"),
	); err != nil {
		return err
	}

	if m.CacheMisses, err = m.meter.Int64Counter(
		"basemap_tile_cache_misses_total",
		metric.WithDescription("Tile cache misses"),
	); err != nil {
		return err
	}

	if m.CacheSize, err = m.meter.Int64Gauge(
		"basemap_tile_cache_items",
		metric.WithDescription("Decoded tiles currently held by the cache"),
	); err != nil {
		return err
	}

	if m.FetchDuration, err = m.meter.Float64Histogram(
		"basemap_wms_fetch_duration_seconds",
		metric.WithDescription("Duration of a single WMS GetMap fetch and decode"),
	); err != nil {
		return err
	}

	if m.FetchErrors, err = m.meter.Int64Counter(
		"basemap_wms_fetch_errors_total",
		metric.WithDescription("Failed WMS fetches by reason"),
	); err != nil {
		return err
	}

	return nil
}

// Handler returns the HTTP handler exposing metrics in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Record helpers keep call sites free of nil checks when metrics are disabled.

// RecordCacheHit increments the cache hit counter for a source.
func (m *Metrics) RecordCacheHit(ctx context.Context, sourceID string) {
	if m.CacheHits != nil {
		m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("source", sourceID)))
	}
}

// RecordCacheMiss increments the cache miss counter for a source.
func (m *Metrics) RecordCacheMiss(ctx context.Context, sourceID string) {
	if m.CacheMisses != nil {
		m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("source", sourceID)))
	}
}

// RecordFetch records the duration of one tile fetch attempt.
func (m *Metrics) RecordFetch(ctx context.Context, seconds float64) {
	if m.FetchDuration != nil {
		m.FetchDuration.Record(ctx, seconds)
	}
}

// RecordFetchError counts a failed fetch with its failure reason.
func (m *Metrics) RecordFetchError(ctx context.Context, reason string) {
	if m.FetchErrors != nil {
		m.FetchErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// RecordRender records a completed render pass.
func (m *Metrics) RecordRender(ctx context.Context, seconds float64, scheduled, drawn, skipped int64) {
	if m.RendersTotal == nil {
		return
	}
	m.RendersTotal.Add(ctx, 1)
	m.RenderDuration.Record(ctx, seconds)
	m.TilesScheduled.Add(ctx, scheduled)
	m.TilesDrawn.Add(ctx, drawn)
	m.TilesSkipped.Add(ctx, skipped)
}

// RecordCacheSize records the current number of cached tiles.
func (m *Metrics) RecordCacheSize(ctx context.Context, items int64) {
	if m.CacheSize != nil {
		m.CacheSize.Record(ctx, items)
	}
}
