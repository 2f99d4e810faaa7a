package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"os"

	"github.com/irisiflimsi/maptool/internal/platform/cache"
	"github.com/irisiflimsi/maptool/internal/platform/config"
	"github.com/irisiflimsi/maptool/internal/platform/observability"
	"github.com/irisiflimsi/maptool/internal/platform/resilience"
	"github.com/irisiflimsi/maptool/internal/render"
	"github.com/irisiflimsi/maptool/internal/wms"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		sourceID   = flag.String("source", "", "id of the configured map source (default: first)")
		width      = flag.Int("width", 512, "viewport width in pixels")
		height     = flag.Int("height", 512, "viewport height in pixels")
		scale      = flag.Float64("scale", 1.0, "zoom scale factor")
		offX       = flag.Int("offset-x", 0, "horizontal pan offset in screen pixels")
		offY       = flag.Int("offset-y", 0, "vertical pan offset in screen pixels")
		output     = flag.String("out", "basemap.png", "output PNG path")
	)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.MustLoad(*configPath)

	// Observability first
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("basemap-render", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracerProvider, err := observability.NewTracerProvider(ctx, "basemap-render", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracerProvider.Shutdown(ctx)

	tracer := observability.NewTracer("basemap-render")

	src, err := pickSource(cfg, *sourceID)
	if err != nil {
		logger.LogError(ctx, "source selection failed", err)
		os.Exit(1)
	}

	// Tile store
	store := cache.NewMemoryStore(cache.MemoryStoreConfig{
		MaxItems:        cfg.Cache.MaxItems,
		RecencyCapacity: cfg.Cache.RecencyCapacity,
	})
	defer store.Close()

	// WMS client
	var breaker *resilience.CircuitBreaker
	if cfg.WMS.CircuitBreaker.Enabled {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             src.ID,
			FailureThreshold: cfg.WMS.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.WMS.CircuitBreaker.SuccessThreshold,
			Timeout:          cfg.WMS.CircuitBreaker.Timeout,
		})
	}

	client := wms.NewClient(wms.ClientConfig{
		Timeout:           cfg.WMS.Timeout,
		RequestsPerSecond: cfg.WMS.RateLimit.RequestsPerSecond,
		Burst:             cfg.WMS.RateLimit.Burst,
		Breaker:           breaker,
		Logger:            logger,
		Metrics:           metrics,
		Tracer:            tracer,
		UserAgent:         cfg.WMS.UserAgent,
		Format:            cfg.WMS.Format,
	})

	// Render engine
	engine, err := render.NewEngine(render.EngineConfig{
		Fetcher:            client,
		Store:              store,
		Workers:            cfg.Render.Workers,
		QueueSize:          cfg.Render.QueueSize,
		MaxInflightFetches: int64(cfg.Render.MaxInflightFetches),
		Deadline:           cfg.Render.Deadline,
		Logger:             logger,
		Metrics:            metrics,
		Tracer:             tracer,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create engine", err)
		os.Exit(1)
	}
	defer engine.Close()

	if cfg.Observability.Metrics.Enabled {
		go startHTTPServer(cfg.Observability.Metrics.Port, metrics, logger)
	}

	logger.Info("rendering basemap",
		"source", src.ID,
		"width", *width,
		"height", *height,
		"scale", *scale,
	)

	surface := render.NewImageSurface(*width, *height)
	stats, err := engine.Render(ctx, src, surface, *width, *height, *scale, *offX, *offY)
	if err != nil {
		logger.LogError(ctx, "render failed", err)
		os.Exit(1)
	}

	logger.Info("render complete",
		"scheduled", stats.Scheduled,
		"drawn", stats.Drawn,
		"from_cache", stats.FromCache,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)

	if err := writePNG(*output, surface); err != nil {
		logger.LogError(ctx, "failed to write output", err)
		os.Exit(1)
	}

	logger.Info("output written", "path", *output)
}

// pickSource selects the configured source by id, or the first one.
func pickSource(cfg *config.Config, id string) (wms.Source, error) {
	if id == "" {
		return cfg.Sources[0].Source(), nil
	}
	for _, s := range cfg.Sources {
		if s.ID == id {
			return s.Source(), nil
		}
	}
	return wms.Source{}, fmt.Errorf("unknown source %q", id)
}

func writePNG(path string, surface *render.ImageSurface) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, surface.Image()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// startHTTPServer serves health checks and the metrics endpoint
func startHTTPServer(port int, metrics *observability.Metrics, logger *observability.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("HTTP server listening", "address", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.LogError(context.Background(), "HTTP server error", err)
	}
}
