package wms

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		name     string
		scale    float64
		zoom     int
		levelSc  float64
		fraction float64
	}{
		{"unit scale", 1.0, 0, 1, 1.0},
		{"double", 2.0, 1, 2, 1.0},
		{"between levels", 3.0, 1, 2, 1.5},
		{"half", 0.5, -1, 0.5, 1.0},
		{"fractional", 0.75, -1, 0.5, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := LevelFor(tt.scale)
			if err != nil {
				t.Fatalf("LevelFor(%v) failed: %v", tt.scale, err)
			}
			if level.Zoom != tt.zoom {
				t.Errorf("zoom: got %d, want %d", level.Zoom, tt.zoom)
			}
			if level.Scale != tt.levelSc {
				t.Errorf("level scale: got %v, want %v", level.Scale, tt.levelSc)
			}
			if math.Abs(level.Fraction-tt.fraction) > 1e-12 {
				t.Errorf("fraction: got %v, want %v", level.Fraction, tt.fraction)
			}
		})
	}
}

func TestLevelFor_NonPositiveScale(t *testing.T) {
	for _, scale := range []float64{0, -1, -0.001} {
		if _, err := LevelFor(scale); !errors.Is(err, ErrNonPositiveScale) {
			t.Errorf("LevelFor(%v): expected ErrNonPositiveScale, got %v", scale, err)
		}
	}
}

func TestVisibleTiles_FourTileScenario(t *testing.T) {
	// 512x512 viewport at scale 1 with no offset covers exactly four tiles.
	level, err := LevelFor(1.0)
	if err != nil {
		t.Fatal(err)
	}

	r := VisibleTiles(512, 512, level, 0, 0)
	want := TileRange{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
	if r != want {
		t.Fatalf("got range %+v, want %+v", r, want)
	}
	if r.Count() != 4 {
		t.Errorf("got %d tiles, want 4", r.Count())
	}

	// Each tile maps to a 256x256 destination rectangle.
	for ty := r.MinY; ty <= r.MaxY; ty++ {
		for tx := r.MinX; tx <= r.MaxX; tx++ {
			rect := ScreenRect(tx, ty, level, 0, 0)
			want := Rect{X: tx * 256, Y: ty * 256, W: 256, H: 256}
			if rect != want {
				t.Errorf("tile (%d,%d): got %+v, want %+v", tx, ty, rect, want)
			}
		}
	}
}

func TestVisibleTiles_ZeroAreaViewport(t *testing.T) {
	level, _ := LevelFor(1.0)

	for _, dims := range [][2]int{{0, 512}, {512, 0}, {0, 0}, {-10, 512}} {
		r := VisibleTiles(dims[0], dims[1], level, 0, 0)
		if !r.Empty() {
			t.Errorf("viewport %v: expected empty range, got %+v", dims, r)
		}
		if r.Count() != 0 {
			t.Errorf("viewport %v: expected 0 tiles, got %d", dims, r.Count())
		}
	}
}

func TestVisibleTiles_NegativeOffset(t *testing.T) {
	level, _ := LevelFor(1.0)

	// Offset shifts the map right/down, exposing negative tile indices.
	r := VisibleTiles(512, 512, level, 300, 300)
	if r.MinX != -2 || r.MinY != -2 {
		t.Errorf("expected min tile (-2,-2), got (%d,%d)", r.MinX, r.MinY)
	}
}

func TestVisibleTiles_CoverageProperty(t *testing.T) {
	// For arbitrary positive scales and offsets, the screen rectangles of the
	// computed tile range must cover the whole viewport with no edge gaps.
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		scale := math.Exp(rng.Float64()*6 - 3) // ~[0.05, 20)
		width := 1 + rng.Intn(2000)
		height := 1 + rng.Intn(2000)
		offX := rng.Intn(4000) - 2000
		offY := rng.Intn(4000) - 2000

		level, err := LevelFor(scale)
		if err != nil {
			t.Fatalf("LevelFor(%v) failed: %v", scale, err)
		}

		r := VisibleTiles(width, height, level, offX, offY)
		if r.Empty() {
			t.Fatalf("case %d: non-degenerate viewport yielded empty range", i)
		}

		topLeft := ScreenRect(r.MinX, r.MinY, level, offX, offY)
		botRight := ScreenRect(r.MaxX, r.MaxY, level, offX, offY)

		if topLeft.X > 0 || topLeft.Y > 0 {
			t.Errorf("case %d (scale=%v off=%d,%d vp=%dx%d): top-left tile starts at (%d,%d), inside viewport",
				i, scale, offX, offY, width, height, topLeft.X, topLeft.Y)
		}
		if botRight.X+botRight.W < width || botRight.Y+botRight.H < height {
			t.Errorf("case %d (scale=%v off=%d,%d vp=%dx%d): bottom-right tile ends at (%d,%d), short of viewport",
				i, scale, offX, offY, width, height, botRight.X+botRight.W, botRight.Y+botRight.H)
		}

		// Adjacent tiles share edges exactly.
		if r.MaxX > r.MinX {
			a := ScreenRect(r.MinX, r.MinY, level, offX, offY)
			b := ScreenRect(r.MinX+1, r.MinY, level, offX, offY)
			if a.X+a.W != b.X {
				t.Errorf("case %d: horizontal gap between adjacent tiles: %d+%d != %d", i, a.X, a.W, b.X)
			}
		}
	}
}

func TestTileBBox_Orientation(t *testing.T) {
	src := Source{
		ID:         "zone",
		URL:        "http://wms.example/service",
		Layers:     []string{"regional"},
		AnchorLat:  45,
		AnchorLon:  22.5,
		WorldScale: 1,
	}
	level, _ := LevelFor(1.0)

	b := TileBBox(src, level, 0, 0)
	if b.MaxLat != 45 || b.MinLat != 44 {
		t.Errorf("tile (0,0) latitudes: got [%v,%v], want [44,45]", b.MinLat, b.MaxLat)
	}
	if b.MinLon != 22.5 || b.MaxLon != 23.5 {
		t.Errorf("tile (0,0) longitudes: got [%v,%v], want [22.5,23.5]", b.MinLon, b.MaxLon)
	}

	// Grid y grows downward: the next tile row lies south of the first.
	below := TileBBox(src, level, 0, 1)
	if below.MaxLat != b.MinLat {
		t.Errorf("tile (0,1) north edge %v should equal tile (0,0) south edge %v", below.MaxLat, b.MinLat)
	}

	// Grid x grows eastward.
	right := TileBBox(src, level, 1, 0)
	if right.MinLon != b.MaxLon {
		t.Errorf("tile (1,0) west edge %v should equal tile (0,0) east edge %v", right.MinLon, b.MaxLon)
	}
}

func TestTileBBox_RoundTrip(t *testing.T) {
	src := Source{
		ID:        "zone",
		URL:       "http://wms.example/service",
		Layers:    []string{"topo"},
		AnchorLat: 45,
		AnchorLon: -22.5,
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		scale := math.Exp(rng.Float64()*8 - 4)
		level, err := LevelFor(scale)
		if err != nil {
			t.Fatal(err)
		}
		tx := rng.Intn(4000) - 2000
		ty := rng.Intn(4000) - 2000

		gotX, gotY := TileForBBox(src, level, TileBBox(src, level, tx, ty))
		if gotX != tx || gotY != ty {
			t.Errorf("zoom %d tile (%d,%d) round-tripped to (%d,%d)", level.Zoom, tx, ty, gotX, gotY)
		}
	}
}

func TestSourceValidate(t *testing.T) {
	valid := Source{
		ID:     "zone-1",
		URL:    "https://ows.example.org/service?VERSION=1.3.0",
		Layers: []string{"TOPO-WMS"},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid source rejected: %v", err)
	}

	tests := []struct {
		name string
		mut  func(s Source) Source
	}{
		{"missing id", func(s Source) Source { s.ID = ""; return s }},
		{"missing url", func(s Source) Source { s.URL = ""; return s }},
		{"bad scheme", func(s Source) Source { s.URL = "ftp://example.org/wms"; return s }},
		{"no host", func(s Source) Source { s.URL = "http://"; return s }},
		{"no layers", func(s Source) Source { s.Layers = nil; return s }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.mut(valid).Validate(); !errors.Is(err, ErrInvalidSource) {
				t.Errorf("expected ErrInvalidSource, got %v", err)
			}
		})
	}
}
