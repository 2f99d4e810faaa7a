package wms

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/irisiflimsi/maptool/internal/platform/observability"
	"github.com/irisiflimsi/maptool/internal/platform/resilience"
	"go.opentelemetry.io/otel/attribute"
)

const defaultUserAgent = "maptool-basemap/1.0"

// Client issues WMS GetMap requests. One client is shared by all sources; the
// endpoint comes from the source per request. Requests make a single attempt
// each: failed tiles are simply retried by a later render pass.
type Client struct {
	httpClient *http.Client
	limiter    *resilience.RateLimiter
	breaker    *resilience.CircuitBreaker
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     observability.Tracer
	userAgent  string
	format     string
}

// ClientConfig holds Client configuration.
type ClientConfig struct {
	// Timeout bounds a single GetMap request. Zero means 30s.
	Timeout time.Duration
	// RequestsPerSecond and Burst configure the outgoing rate limit.
	// Zero values take the limiter defaults.
	RequestsPerSecond float64
	Burst             int
	// Breaker guards the endpoint. Nil means no breaker.
	Breaker *resilience.CircuitBreaker

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer

	// UserAgent overrides the default User-Agent header.
	UserAgent string
	// Format is the requested image format. Empty means image/png.
	Format string
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// NewClient creates a WMS client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("info", "json")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &observability.Metrics{}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Format == "" {
		cfg.Format = "image/png"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		limiter:    resilience.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		breaker:    cfg.Breaker,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		userAgent:  cfg.UserAgent,
		format:     cfg.Format,
	}
}

// FetchTile requests the map imagery for bbox at width x height pixels and
// decodes it. It honors ctx cancellation throughout, so an expired render
// deadline aborts the HTTP request rather than leaking it.
func (c *Client) FetchTile(ctx context.Context, src Source, bbox BBox, width, height int) (image.Image, error) {
	ctx, span := c.tracer.StartSpan(ctx, "wms.fetch_tile",
		attribute.String("source", src.ID),
		attribute.Float64("bbox.min_lat", bbox.MinLat),
		attribute.Float64("bbox.min_lon", bbox.MinLon),
	)
	defer span.End()

	start := time.Now()

	data, err := c.getMap(ctx, src, bbox, width, height)
	if err != nil {
		span.NoticeError(err)
		c.metrics.RecordFetchError(ctx, "network")
		return nil, err
	}

	img, err := Decode(data)
	if err != nil {
		span.NoticeError(err)
		c.metrics.RecordFetchError(ctx, "decode")
		return nil, err
	}

	c.metrics.RecordFetch(ctx, time.Since(start).Seconds())
	return img, nil
}

func (c *Client) getMap(ctx context.Context, src Source, bbox BBox, width, height int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if c.breaker == nil {
		return c.doGetMap(ctx, src, bbox, width, height)
	}
	return resilience.ExecuteWithResult(c.breaker, ctx, func(ctx context.Context) ([]byte, error) {
		return c.doGetMap(ctx, src, bbox, width, height)
	})
}

func (c *Client) doGetMap(ctx context.Context, src Source, bbox BBox, width, height int) ([]byte, error) {
	reqURL, err := c.buildGetMapURL(src, bbox, width, height)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GetMap request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GetMap returned status %d", resp.StatusCode)
	}

	// Some servers report errors as XML service exceptions with status 200.
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("GetMap returned non-image content type %q", ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read GetMap response: %w", err)
	}
	return data, nil
}

// buildGetMapURL builds a WMS 1.3.0 GetMap URL. EPSG:4326 in 1.3.0 uses
// lat,lon axis order, so BBOX is minLat,minLon,maxLat,maxLon.
func (c *Client) buildGetMapURL(src Source, bbox BBox, width, height int) (string, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}

	q := u.Query()
	q.Set("SERVICE", "WMS")
	q.Set("VERSION", "1.3.0")
	q.Set("REQUEST", "GetMap")
	q.Set("LAYERS", strings.Join(src.Layers, ","))
	q.Set("STYLES", "")
	q.Set("CRS", "EPSG:4326")
	q.Set("BBOX", strings.Join([]string{
		formatCoord(bbox.MinLat),
		formatCoord(bbox.MinLon),
		formatCoord(bbox.MaxLat),
		formatCoord(bbox.MaxLon),
	}, ","))
	q.Set("WIDTH", strconv.Itoa(width))
	q.Set("HEIGHT", strconv.Itoa(height))
	q.Set("FORMAT", c.format)
	q.Set("TRANSPARENT", "TRUE")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
