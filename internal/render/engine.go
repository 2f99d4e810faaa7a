// Package render implements the basemap render engine: it schedules one
// fetch/compose unit per visible tile, resolves tiles through the shared
// cache, and composites them onto the caller's surface.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/irisiflimsi/maptool/internal/platform/cache"
	"github.com/irisiflimsi/maptool/internal/platform/observability"
	"github.com/irisiflimsi/maptool/internal/platform/worker"
	"github.com/irisiflimsi/maptool/internal/wms"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// DefaultDeadline bounds how long Render blocks the caller.
const DefaultDeadline = 10 * time.Second

// TileFetcher fetches and decodes the imagery for one tile bounding box.
type TileFetcher interface {
	FetchTile(ctx context.Context, src wms.Source, bbox wms.BBox, width, height int) (image.Image, error)
}

// TileResult is the structured outcome of one fetch/compose unit.
type TileResult struct {
	Key       cache.TileKey
	FromCache bool
	Err       error
	Duration  time.Duration
}

// Stats aggregates the per-tile results of one render pass. A pass that
// skipped or failed tiles still completed normally; gaps are degraded output,
// not errors.
type Stats struct {
	Scheduled int
	Drawn     int
	FromCache int
	Failed    int
	// Skipped counts units that never reported before the deadline.
	Skipped int
}

// Engine drives render passes. It owns a worker pool shared across passes and
// a fetch semaphore bounding concurrent network calls; per-pass state is
// limited to the deadline context and the result channel.
type Engine struct {
	fetcher  TileFetcher
	store    cache.Store
	pool     *worker.Pool
	fetchSem *semaphore.Weighted
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   observability.Tracer
	deadline time.Duration
}

// EngineConfig holds Engine configuration.
type EngineConfig struct {
	Fetcher TileFetcher
	Store   cache.Store

	// Workers sizes the shared pool. Zero means 8.
	Workers int
	// QueueSize buffers submitted units. Zero means 4*Workers.
	QueueSize int
	// MaxInflightFetches bounds concurrent network fetches across
	// overlapping render passes. Zero means Workers.
	MaxInflightFetches int64
	// Deadline bounds how long one Render call blocks. Zero means
	// DefaultDeadline.
	Deadline time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// NewEngine creates an Engine and starts its worker pool.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("render: fetcher is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("render: tile store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4 * cfg.Workers
	}
	if cfg.MaxInflightFetches <= 0 {
		cfg.MaxInflightFetches = int64(cfg.Workers)
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("info", "json")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &observability.Metrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Engine{
		fetcher:  cfg.Fetcher,
		store:    cfg.Store,
		pool:     worker.NewPool(context.Background(), cfg.Workers, cfg.QueueSize),
		fetchSem: semaphore.NewWeighted(cfg.MaxInflightFetches),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		deadline: cfg.Deadline,
	}, nil
}

// Close shuts down the shared worker pool.
func (e *Engine) Close() {
	e.pool.Close()
}

// Render performs one full fetch/cache/compose pass for the viewport
// (width x height screen pixels) under the given scale and offset.
//
// Only configuration and transform errors are returned. Per-tile failures and
// deadline expiry degrade the output but the call completes normally; the
// deadline context is threaded into every fetch so in-flight requests are
// aborted rather than leaked.
func (e *Engine) Render(ctx context.Context, src wms.Source, surface Surface, width, height int, scale float64, offX, offY int) (Stats, error) {
	ctx, span := e.tracer.StartSpan(ctx, "render",
		attribute.String("source", src.ID),
		attribute.Float64("scale", scale),
	)
	defer span.End()

	if err := src.Validate(); err != nil {
		span.NoticeError(err)
		return Stats{}, err
	}

	level, err := wms.LevelFor(scale)
	if err != nil {
		span.NoticeError(err)
		return Stats{}, fmt.Errorf("transform viewport: %w", err)
	}

	tiles := wms.VisibleTiles(width, height, level, offX, offY)
	if tiles.Empty() {
		return Stats{}, nil
	}

	start := time.Now()
	renderCtx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	comp := NewCompositor(surface)
	count := tiles.Count()
	results := make(chan TileResult, count)

	submitted := 0
	for ty := tiles.MinY; ty <= tiles.MaxY; ty++ {
		for tx := tiles.MinX; tx <= tiles.MaxX; tx++ {
			key := cache.TileKey{SourceID: src.ID, Zoom: level.Zoom, X: tx, Y: ty}
			job := worker.Job{
				ID: key.String(),
				Run: func(context.Context) {
					results <- e.renderTile(renderCtx, src, level, key, offX, offY, comp)
				},
			}
			if err := e.pool.Submit(renderCtx, job); err != nil {
				// Deadline hit while queueing; the remaining tiles
				// stay gaps for this pass.
				break
			}
			submitted++
		}
	}

	stats := Stats{Scheduled: count}
collect:
	for i := 0; i < submitted; i++ {
		select {
		case res := <-results:
			switch {
			case res.Err != nil:
				stats.Failed++
			default:
				stats.Drawn++
				if res.FromCache {
					stats.FromCache++
				}
			}
		case <-renderCtx.Done():
			break collect
		}
	}
	stats.Skipped = count - stats.Drawn - stats.Failed

	elapsed := time.Since(start)
	e.metrics.RecordRender(ctx, elapsed.Seconds(), int64(stats.Scheduled), int64(stats.Drawn), int64(stats.Skipped))
	if ms, ok := e.store.(*cache.MemoryStore); ok {
		e.metrics.RecordCacheSize(ctx, int64(ms.Len()))
	}

	span.SetAttributes(
		attribute.Int("tiles.scheduled", stats.Scheduled),
		attribute.Int("tiles.drawn", stats.Drawn),
		attribute.Int("tiles.failed", stats.Failed),
		attribute.Int("tiles.skipped", stats.Skipped),
	)
	e.logger.LogInfo(ctx, "render pass complete",
		"source", src.ID,
		"zoom", level.Zoom,
		"scheduled", stats.Scheduled,
		"drawn", stats.Drawn,
		"from_cache", stats.FromCache,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"elapsed", elapsed,
	)

	return stats, nil
}

// renderTile resolves one tile from cache or remote fetch and composites it.
// Failures are contained here: they are logged, reported in the result, and
// never affect sibling tiles.
func (e *Engine) renderTile(ctx context.Context, src wms.Source, level wms.Level, key cache.TileKey, offX, offY int, comp *Compositor) TileResult {
	start := time.Now()
	res := TileResult{Key: key}

	tile, err := e.store.Get(ctx, key)
	switch {
	case err == nil:
		res.FromCache = true
		e.metrics.RecordCacheHit(ctx, src.ID)

	case errors.Is(err, cache.ErrNotFound):
		e.metrics.RecordCacheMiss(ctx, src.ID)

		tile, res.Err = e.fetchTile(ctx, src, level, key)
		if res.Err != nil {
			e.logger.LogWarn(ctx, "tile fetch failed",
				"tile", key.String(), "error", res.Err)
			return res
		}

	default:
		res.Err = err
		return res
	}

	// Deadline may have expired while this unit waited; abandoned tiles are
	// never drawn for this pass.
	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return res
	}

	comp.Draw(tile.Image, wms.ScreenRect(key.X, key.Y, level, offX, offY))
	res.Duration = time.Since(start)
	return res
}

func (e *Engine) fetchTile(ctx context.Context, src wms.Source, level wms.Level, key cache.TileKey) (*cache.Tile, error) {
	if err := e.fetchSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.fetchSem.Release(1)

	// Fetch at double the tile resolution; the compositor scales back down,
	// which smooths the result.
	bbox := wms.TileBBox(src, level, key.X, key.Y)
	img, err := e.fetcher.FetchTile(ctx, src, bbox, 2*wms.TileSize, 2*wms.TileSize)
	if err != nil {
		return nil, err
	}

	tile := cache.NewTile(img)
	if err := e.store.Put(ctx, key, tile); err != nil {
		// Caching is best effort; the tile still draws this pass.
		e.logger.LogWarn(ctx, "tile cache put failed", "tile", key.String(), "error", err)
	}
	return tile, nil
}
