package engine

import (
	"bytes"
	"context"
	"image/color"
	imagepng "image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/floodcontour/elevation-tiles/internal/apperr"
	"github.com/floodcontour/elevation-tiles/internal/codec"
	"github.com/floodcontour/elevation-tiles/internal/colormap"
	"github.com/floodcontour/elevation-tiles/internal/loader"
	"github.com/floodcontour/elevation-tiles/internal/source"
)

// blockingCells never returns, simulating a source cell lookup that never
// completes so a configured deadline is what ends the request.
type blockingCells struct{ unblock chan struct{} }

func (b *blockingCells) Open(id source.CellID) (*source.Array, bool) {
	<-b.unblock
	return nil, false
}

// countingCells is an always-empty CellOpener that counts calls into Open,
// standing in for instrumentation on the Elevation Loader boundary.
type countingCells struct {
	calls atomic.Int64
}

func (c *countingCells) Open(id source.CellID) (*source.Array, bool) {
	c.calls.Add(1)
	return nil, false
}

func newTestEngine(t *testing.T, ld *loader.Loader) *Engine {
	t.Helper()
	e, err := New(Config{
		MaxZoom:        11,
		WaterLevelMinM: -10,
		WaterLevelMaxM: 1000,
		ConcurrencyCap: 8,
		QueueCap:       32,
		Deadline:       time.Second,
	}, ld, nil, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestServeUint16_OceanTileIsAllNoData(t *testing.T) {
	cells := &countingCells{}
	e := newTestEngine(t, loader.New(cells))

	payload, _, src, err := e.ServeUint16(context.Background(), 9, 140, 215, false, []string{"identity"})
	if err != nil {
		t.Fatalf("ServeUint16: %v", err)
	}
	if src != SourceRuntime {
		t.Errorf("source = %v, want runtime", src)
	}
	if len(payload) != codec.PayloadBytes {
		t.Fatalf("payload length = %d, want %d", len(payload), codec.PayloadBytes)
	}
	for _, b := range payload {
		if b != 0xFF {
			t.Fatal("expected an all-0xFF payload for an uncovered tile")
		}
	}
}

func TestServeUint16_InvalidZoom(t *testing.T) {
	cells := &countingCells{}
	e := newTestEngine(t, loader.New(cells))

	_, _, _, err := e.ServeUint16(context.Background(), 99, 0, 0, false, []string{"identity"})
	if err == nil {
		t.Fatal("expected error for zoom beyond MaxZoom")
	}
}

func TestServeUint16_DeadlineExceeded(t *testing.T) {
	cells := &blockingCells{unblock: make(chan struct{})}
	e, err := New(Config{
		MaxZoom:        11,
		WaterLevelMinM: -10,
		WaterLevelMaxM: 1000,
		ConcurrencyCap: 8,
		QueueCap:       32,
		Deadline:       20 * time.Millisecond,
	}, loader.New(cells), nil, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Zoom 0 covers the whole globe, so the loader's first covering-cell
	// lookup blocks immediately.
	_, _, _, err = e.ServeUint16(context.Background(), 0, 0, 0, false, []string{"identity"})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if kind := apperr.KindOf(err); kind != apperr.KindTimeout {
		t.Errorf("error kind = %v, want KindTimeout", kind)
	}
}

func TestServeUint16_NoArtifactStoreFallsThroughToRuntime(t *testing.T) {
	cells := &countingCells{}
	e := newTestEngine(t, loader.New(cells))
	e.artifacts = nil // no artifact store configured in this test fixture anyway

	// With no artifact store, preferPrecompressed true or false must behave
	// identically: both fall through to runtime synthesis.
	payload, _, src, err := e.ServeUint16(context.Background(), 9, 140, 215, true, []string{"identity"})
	if err != nil {
		t.Fatalf("ServeUint16: %v", err)
	}
	if src != SourceRuntime {
		t.Errorf("source = %v, want runtime", src)
	}
	if len(payload) != codec.PayloadBytes {
		t.Fatalf("payload length = %d, want %d", len(payload), codec.PayloadBytes)
	}
}

func TestServeUint16_SingleFlight(t *testing.T) {
	cells := &countingCells{}
	e := newTestEngine(t, loader.New(cells))

	const n = 50
	results := make(chan []byte, n)
	for i := 0; i < n; i++ {
		go func() {
			payload, _, _, err := e.ServeUint16(context.Background(), 10, 286, 387, false, []string{"identity"})
			if err != nil {
				t.Error(err)
				results <- nil
				return
			}
			results <- payload
		}()
	}

	var first []byte
	for i := 0; i < n; i++ {
		got := <-results
		if first == nil {
			first = got
			continue
		}
		if string(got) != string(first) {
			t.Fatal("concurrent requests for the same tile produced different bytes")
		}
	}
}

func TestServePNG_FloodMode_OceanIsWaterColor(t *testing.T) {
	cells := &countingCells{}
	e := newTestEngine(t, loader.New(cells))

	png, _, err := e.ServePNG(context.Background(), colormap.ModeFlood, 1.0, 9, 140, 215)
	if err != nil {
		t.Fatalf("ServePNG: %v", err)
	}
	if len(png) == 0 {
		t.Fatal("expected non-empty PNG bytes")
	}
	img, err := imagepng.Decode(bytes.NewReader(png))
	if err != nil {
		t.Fatalf("decoding PNG: %v", err)
	}
	water := colormap.WaterColor()
	want := color.NRGBA{R: water.R, G: water.G, B: water.B, A: water.A}
	if got := color.NRGBAModel.Convert(img.At(0, 0)); got != want {
		t.Errorf("pixel (0,0) = %+v, want water color %+v", got, want)
	}
}

func TestServePNG_InvalidWaterLevel(t *testing.T) {
	cells := &countingCells{}
	e := newTestEngine(t, loader.New(cells))

	_, _, err := e.ServePNG(context.Background(), colormap.ModeFlood, 5000, 9, 140, 215)
	if err == nil {
		t.Fatal("expected error for out-of-range water level")
	}
}

func TestServePNG_CacheHitOnSecondRequest(t *testing.T) {
	cells := &countingCells{}
	e := newTestEngine(t, loader.New(cells))

	png1, src1, err := e.ServePNG(context.Background(), colormap.ModeTopographic, 0, 9, 140, 215)
	if err != nil {
		t.Fatalf("ServePNG: %v", err)
	}
	if src1 != SourceRuntime {
		t.Errorf("first call source = %v, want runtime", src1)
	}

	png2, src2, err := e.ServePNG(context.Background(), colormap.ModeTopographic, 0, 9, 140, 215)
	if err != nil {
		t.Fatalf("ServePNG: %v", err)
	}
	if src2 != SourceCache {
		t.Errorf("second call source = %v, want cache", src2)
	}
	if string(png1) != string(png2) {
		t.Error("cached PNG differs from the original")
	}
}

func TestServePNG_SameQuantumIsByteIdentical(t *testing.T) {
	cells := &countingCells{}
	e := newTestEngine(t, loader.New(cells))

	a, _, err := e.ServePNG(context.Background(), colormap.ModeFlood, 1.23, 9, 140, 215)
	if err != nil {
		t.Fatalf("ServePNG: %v", err)
	}
	b, _, err := e.ServePNG(context.Background(), colormap.ModeFlood, 1.2, 10, 1, 1)
	if err != nil {
		t.Fatalf("ServePNG: %v", err)
	}
	// Both tiles are oceanic (all-NoData), so both take the solid WATER-color
	// fast path and render to the same PNG regardless of (z,x,y); the flood
	// LUT itself is not consulted on that path.
	if string(a) != string(b) {
		t.Error("same-quantum all-NoData renders should be byte-identical")
	}
}
