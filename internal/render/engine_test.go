package render

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/irisiflimsi/maptool/internal/platform/cache"
	"github.com/irisiflimsi/maptool/internal/wms"
)

type fetchFunc func(ctx context.Context, src wms.Source, bbox wms.BBox, width, height int) (image.Image, error)

func (f fetchFunc) FetchTile(ctx context.Context, src wms.Source, bbox wms.BBox, width, height int) (image.Image, error) {
	return f(ctx, src, bbox, width, height)
}

// recordingSurface records draw calls and detects unserialized access.
type recordingSurface struct {
	mu       sync.Mutex
	rects    []wms.Rect
	inDraw   int32
	overlaps int32
}

func (s *recordingSurface) Draw(img image.Image, x, y, w, h int) {
	if atomic.AddInt32(&s.inDraw, 1) > 1 {
		atomic.AddInt32(&s.overlaps, 1)
	}
	time.Sleep(time.Millisecond) // widen the race window
	s.mu.Lock()
	s.rects = append(s.rects, wms.Rect{X: x, Y: y, W: w, H: h})
	s.mu.Unlock()
	atomic.AddInt32(&s.inDraw, -1)
}

func (s *recordingSurface) drawCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rects)
}

func testEngine(t *testing.T, fetcher TileFetcher, opts ...func(*EngineConfig)) *Engine {
	t.Helper()
	cfg := EngineConfig{
		Fetcher: fetcher,
		Store:   cache.NewMemoryStore(cache.MemoryStoreConfig{}),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return e
}

func okFetcher() fetchFunc {
	return func(ctx context.Context, src wms.Source, bbox wms.BBox, width, height int) (image.Image, error) {
		return image.NewRGBA(image.Rect(0, 0, width, height)), nil
	}
}

func renderSource() wms.Source {
	return wms.Source{
		ID:         "zone-1",
		URL:        "http://wms.example/service",
		Layers:     []string{"regional"},
		AnchorLat:  45,
		AnchorLon:  22.5,
		WorldScale: 1,
	}
}

func TestEngine_RenderFourTiles(t *testing.T) {
	var fetches int32
	fetcher := fetchFunc(func(ctx context.Context, src wms.Source, bbox wms.BBox, width, height int) (image.Image, error) {
		atomic.AddInt32(&fetches, 1)
		if width != 512 || height != 512 {
			t.Errorf("expected 2x supersampled 512x512 fetch, got %dx%d", width, height)
		}
		return image.NewRGBA(image.Rect(0, 0, width, height)), nil
	})

	e := testEngine(t, fetcher)
	surface := &recordingSurface{}

	stats, err := e.Render(context.Background(), renderSource(), surface, 512, 512, 1.0, 0, 0)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if stats.Scheduled != 4 || stats.Drawn != 4 || stats.Failed != 0 || stats.Skipped != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if got := atomic.LoadInt32(&fetches); got != 4 {
		t.Errorf("expected 4 fetches, got %d", got)
	}

	// The four tiles land on the four 256x256 quadrants.
	want := map[wms.Rect]bool{
		{X: 0, Y: 0, W: 256, H: 256}:     false,
		{X: 256, Y: 0, W: 256, H: 256}:   false,
		{X: 0, Y: 256, W: 256, H: 256}:   false,
		{X: 256, Y: 256, W: 256, H: 256}: false,
	}
	surface.mu.Lock()
	defer surface.mu.Unlock()
	for _, r := range surface.rects {
		seen, ok := want[r]
		if !ok {
			t.Errorf("unexpected draw rect %+v", r)
		}
		if seen {
			t.Errorf("rect %+v drawn twice", r)
		}
		want[r] = true
	}
}

func TestEngine_PartialFailureDrawsSiblings(t *testing.T) {
	src := renderSource()
	level, _ := wms.LevelFor(1.0)

	fetcher := fetchFunc(func(ctx context.Context, fsrc wms.Source, bbox wms.BBox, width, height int) (image.Image, error) {
		if tx, ty := wms.TileForBBox(fsrc, level, bbox); tx == 1 && ty == 1 {
			return nil, errors.New("simulated fetch failure")
		}
		return image.NewRGBA(image.Rect(0, 0, width, height)), nil
	})

	e := testEngine(t, fetcher)
	surface := &recordingSurface{}

	stats, err := e.Render(context.Background(), src, surface, 512, 512, 1.0, 0, 0)
	if err != nil {
		t.Fatalf("a failed tile must not fail the render call: %v", err)
	}

	if stats.Drawn != 3 || stats.Failed != 1 {
		t.Errorf("expected 3 drawn / 1 failed, got %+v", stats)
	}
	if surface.drawCount() != 3 {
		t.Errorf("expected 3 draw invocations, got %d", surface.drawCount())
	}
}

func TestEngine_SecondPassHitsCache(t *testing.T) {
	var fetches int32
	fetcher := fetchFunc(func(ctx context.Context, src wms.Source, bbox wms.BBox, width, height int) (image.Image, error) {
		atomic.AddInt32(&fetches, 1)
		return image.NewRGBA(image.Rect(0, 0, width, height)), nil
	})

	e := testEngine(t, fetcher)
	src := renderSource()

	if _, err := e.Render(context.Background(), src, &recordingSurface{}, 512, 512, 1.0, 0, 0); err != nil {
		t.Fatal(err)
	}
	first := atomic.LoadInt32(&fetches)

	stats, err := e.Render(context.Background(), src, &recordingSurface{}, 512, 512, 1.0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&fetches); got != first {
		t.Errorf("second pass should not fetch, got %d extra fetches", got-first)
	}
	if stats.FromCache != 4 || stats.Drawn != 4 {
		t.Errorf("expected 4 cache hits drawn, got %+v", stats)
	}
}

func TestEngine_HungFetchHonorsDeadline(t *testing.T) {
	src := renderSource()
	level, _ := wms.LevelFor(1.0)

	fetcher := fetchFunc(func(ctx context.Context, fsrc wms.Source, bbox wms.BBox, width, height int) (image.Image, error) {
		if tx, ty := wms.TileForBBox(fsrc, level, bbox); tx == 0 && ty == 0 {
			// Never completes on its own.
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return image.NewRGBA(image.Rect(0, 0, width, height)), nil
	})

	const deadline = 200 * time.Millisecond
	e := testEngine(t, fetcher, func(cfg *EngineConfig) { cfg.Deadline = deadline })
	surface := &recordingSurface{}

	start := time.Now()
	stats, err := e.Render(context.Background(), src, surface, 512, 512, 1.0, 0, 0)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("deadline expiry must not fail the call: %v", err)
	}
	if elapsed > deadline+time.Second {
		t.Errorf("render blocked %v, want at most deadline plus small margin", elapsed)
	}
	if stats.Drawn != 3 {
		t.Errorf("expected 3 tiles drawn, got %+v", stats)
	}
	if stats.Failed+stats.Skipped != 1 {
		t.Errorf("hung tile should be failed or skipped, got %+v", stats)
	}
}

func TestEngine_InvalidSource(t *testing.T) {
	e := testEngine(t, okFetcher())

	src := renderSource()
	src.URL = ""

	_, err := e.Render(context.Background(), src, &recordingSurface{}, 512, 512, 1.0, 0, 0)
	if !errors.Is(err, wms.ErrInvalidSource) {
		t.Errorf("expected ErrInvalidSource, got %v", err)
	}
}

func TestEngine_NonPositiveScale(t *testing.T) {
	var fetches int32
	fetcher := fetchFunc(func(ctx context.Context, src wms.Source, bbox wms.BBox, width, height int) (image.Image, error) {
		atomic.AddInt32(&fetches, 1)
		return nil, nil
	})
	e := testEngine(t, fetcher)

	_, err := e.Render(context.Background(), renderSource(), &recordingSurface{}, 512, 512, 0, 0, 0)
	if !errors.Is(err, wms.ErrNonPositiveScale) {
		t.Errorf("expected ErrNonPositiveScale, got %v", err)
	}
	if atomic.LoadInt32(&fetches) != 0 {
		t.Error("no work may be scheduled before the transform error")
	}
}

func TestEngine_ZeroAreaViewport(t *testing.T) {
	e := testEngine(t, okFetcher())

	stats, err := e.Render(context.Background(), renderSource(), &recordingSurface{}, 0, 0, 1.0, 0, 0)
	if err != nil {
		t.Fatalf("zero-area viewport is not an error: %v", err)
	}
	if stats != (Stats{}) {
		t.Errorf("expected empty stats, got %+v", stats)
	}
}

func TestEngine_DrawsAreSerialized(t *testing.T) {
	e := testEngine(t, okFetcher(), func(cfg *EngineConfig) { cfg.Workers = 8 })
	surface := &recordingSurface{}

	// A large viewport schedules many concurrent units onto one surface.
	stats, err := e.Render(context.Background(), renderSource(), surface, 2048, 2048, 1.0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Drawn != stats.Scheduled {
		t.Fatalf("expected all tiles drawn, got %+v", stats)
	}

	if got := atomic.LoadInt32(&surface.overlaps); got != 0 {
		t.Errorf("observed %d unserialized draw invocations", got)
	}
}

func TestEngine_ConcurrentRenderPasses(t *testing.T) {
	e := testEngine(t, okFetcher())
	src := renderSource()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stats, err := e.Render(context.Background(), src, &recordingSurface{}, 512, 512, 1.0, i*10, i*10)
			if err != nil {
				t.Errorf("pass %d failed: %v", i, err)
				return
			}
			if stats.Drawn != stats.Scheduled {
				t.Errorf("pass %d: %+v", i, stats)
			}
		}(i)
	}
	wg.Wait()
}

func TestEngine_RequiresFetcherAndStore(t *testing.T) {
	if _, err := NewEngine(EngineConfig{Store: cache.NewMemoryStore(cache.MemoryStoreConfig{})}); err == nil {
		t.Error("expected error without fetcher")
	}
	if _, err := NewEngine(EngineConfig{Fetcher: okFetcher()}); err == nil {
		t.Error("expected error without store")
	}
}
