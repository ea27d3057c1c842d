// Package engine is the Tile Engine: the request coordinator that serves
// precompressed artifacts when available, else synthesizes tiles at
// runtime, enforcing single-flight deduplication and a concurrency cap.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/floodcontour/elevation-tiles/internal/apperr"
	"github.com/floodcontour/elevation-tiles/internal/artifactstore"
	"github.com/floodcontour/elevation-tiles/internal/codec"
	"github.com/floodcontour/elevation-tiles/internal/colormap"
	"github.com/floodcontour/elevation-tiles/internal/coord"
	"github.com/floodcontour/elevation-tiles/internal/loader"
	"github.com/floodcontour/elevation-tiles/internal/tilecache"
)

// TileSource reports which layer produced a response, for the
// X-Tile-Source diagnostic header.
type TileSource string

const (
	SourcePrecompressed TileSource = "precompressed"
	SourceRuntime       TileSource = "runtime"
	SourceCache         TileSource = "cache"
)

// Config collects the tunables named in the external interface contract.
type Config struct {
	MaxZoom        int
	WaterLevelMinM float64
	WaterLevelMaxM float64
	ConcurrencyCap int
	QueueCap       int
	Deadline       time.Duration
}

// Engine owns the stores and caches and is constructed once at startup and
// dropped at shutdown; it is passed by reference into request handlers.
type Engine struct {
	cfg Config

	loader      *loader.Loader
	artifacts   *artifactstore.Store // nil if no precompressed pyramid is configured
	pngCache    *tilecache.Cache

	sfUint16 singleflight.Group
	sfPNG    singleflight.Group

	topoLUT   *colormap.LUT
	floodLUTs sync.Map // float64 quantum -> *colormap.LUT

	permits chan struct{}
	queued  chan struct{} // bounds the number of callers waiting for a permit
}

// New constructs an Engine. artifacts may be nil when no precompressed
// pyramid is configured, in which case every tile is synthesized at
// runtime.
func New(cfg Config, ld *loader.Loader, artifacts *artifactstore.Store, pngCacheCap int) (*Engine, error) {
	cache, err := tilecache.New(pngCacheCap)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "engine.New", err)
	}
	if cfg.ConcurrencyCap <= 0 {
		cfg.ConcurrencyCap = 32
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = cfg.ConcurrencyCap * 4
	}
	return &Engine{
		cfg:       cfg,
		loader:    ld,
		artifacts: artifacts,
		pngCache:  cache,
		topoLUT:   colormap.BuildTopographic(),
		permits:   make(chan struct{}, cfg.ConcurrencyCap),
		queued:    make(chan struct{}, cfg.QueueCap),
	}, nil
}

// acquire reserves a concurrency-cap permit, honoring the queue bound and
// the caller's context. Returns a release function.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	select {
	case e.queued <- struct{}{}:
	default:
		return nil, apperr.New(apperr.KindOverloaded, "engine.acquire")
	}
	defer func() { <-e.queued }()

	select {
	case e.permits <- struct{}{}:
		return func() { <-e.permits }, nil
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.KindTimeout, "engine.acquire", ctx.Err())
	}
}

// ValidateTile checks (z,x,y) against the configured zoom policy.
func (e *Engine) ValidateTile(z, x, y int) error {
	maxZ := e.cfg.MaxZoom
	if maxZ <= 0 {
		maxZ = coord.MaxZoom
	}
	if z < 0 || z > maxZ {
		return apperr.New(apperr.KindInvalidRequest, "engine.ValidateTile")
	}
	n := 1 << uint(z)
	if x < 0 || x >= n || y < 0 || y >= n {
		return apperr.New(apperr.KindInvalidRequest, "engine.ValidateTile")
	}
	return nil
}

// ValidateWaterLevel checks a water level against the configured range.
func (e *Engine) ValidateWaterLevel(waterLevelM float64) error {
	if waterLevelM < e.cfg.WaterLevelMinM || waterLevelM > e.cfg.WaterLevelMaxM {
		return apperr.New(apperr.KindInvalidRequest, "engine.ValidateWaterLevel")
	}
	return nil
}

// ServeUint16 implements the §4.7 serve_uint16 state machine. preferPrecompressed
// gates the Precompressed Artifact Store lookup: false forces a fresh
// runtime synthesis even when a matching artifact exists on disk, which
// `?method=runtime` uses to bypass a possibly-stale pyramid. A caller-set
// deadline (Config.Deadline) bounds everything from here on; exceeding it
// surfaces as apperr.KindTimeout.
func (e *Engine) ServeUint16(ctx context.Context, z, x, y int, preferPrecompressed bool, acceptEncodings []string) (payload []byte, contentEncoding string, src TileSource, err error) {
	if err := e.ValidateTile(z, x, y); err != nil {
		return nil, "", "", err
	}

	if preferPrecompressed && e.artifacts != nil {
		if data, enc, ok := e.artifacts.Negotiate(z, x, y, acceptEncodings); ok {
			return data, string(enc), SourcePrecompressed, nil
		}
	}

	if e.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Deadline)
		defer cancel()
	}

	key := tileKey(z, x, y)
	v, err, _ := e.sfUint16.Do(key, func() (interface{}, error) {
		release, acqErr := e.acquire(ctx)
		if acqErr != nil {
			return nil, acqErr
		}
		defer release()

		done := make(chan struct{})
		var mosaic *loader.Mosaic
		go func() {
			mosaic = e.loader.Load(z, x, y, loader.Nearest)
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindTimeout, "engine.ServeUint16", ctx.Err())
		}

		if !mosaic.HasData {
			return codec.AllNoDataPayload(), nil
		}
		return codec.EncodeTile(mosaic.Data), nil
	})
	if err != nil {
		return nil, "", "", err
	}
	return v.([]byte), "identity", SourceRuntime, nil
}

// ServePNG implements the §4.7 serve_png state machine.
func (e *Engine) ServePNG(ctx context.Context, mode colormap.Mode, waterLevelM float64, z, x, y int) (png []byte, src TileSource, err error) {
	if err := e.ValidateTile(z, x, y); err != nil {
		return nil, "", err
	}
	quantum := colormap.QuantizeWaterLevel(waterLevelM)
	if mode == colormap.ModeFlood {
		if err := e.ValidateWaterLevel(waterLevelM); err != nil {
			return nil, "", err
		}
	}

	cacheKey := tilecache.Key{Mode: mode, WaterLevelQuantum: quantum, Z: z, X: x, Y: y}
	if cached, ok := e.pngCache.Get(cacheKey); ok {
		return cached, SourceCache, nil
	}

	sfKey := pngKey(mode, quantum, z, x, y)
	v, err, _ := e.sfPNG.Do(sfKey, func() (interface{}, error) {
		if cached, ok := e.pngCache.Get(cacheKey); ok {
			return cached, nil
		}

		// No permit acquired here: ServeUint16 below already acquires one
		// around the expensive loader synthesis it may need to do. Acquiring
		// a second permit for the same logical request would halve effective
		// concurrency and could self-deadlock under a saturated pool.
		payload, _, _, err := e.ServeUint16(ctx, z, x, y, true, []string{"identity"})
		if err != nil {
			return nil, err
		}
		decoded, err := decodeForRender(payload)
		if err != nil {
			return nil, err
		}

		var buf []byte
		if allNoData(decoded) {
			fill := colormap.OceanColor()
			if mode == colormap.ModeFlood {
				fill = colormap.WaterColor()
			}
			buf, err = encodeSolidPNG(fill)
		} else {
			lut := e.lutFor(mode, quantum)
			buf, err = encodeLUTPNG(decoded, lut)
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "engine.ServePNG", err)
		}

		e.pngCache.Put(cacheKey, buf)
		return buf, nil
	})
	if err != nil {
		return nil, "", err
	}
	return v.([]byte), SourceRuntime, nil
}

func (e *Engine) lutFor(mode colormap.Mode, quantum float64) *colormap.LUT {
	if mode == colormap.ModeTopographic {
		return e.topoLUT
	}
	if v, ok := e.floodLUTs.Load(quantum); ok {
		return v.(*colormap.LUT)
	}
	lut := colormap.BuildFlood(quantum)
	actual, _ := e.floodLUTs.LoadOrStore(quantum, lut)
	return actual.(*colormap.LUT)
}

func tileKey(z, x, y int) string {
	return itoa(z) + "/" + itoa(x) + "/" + itoa(y)
}

func pngKey(mode colormap.Mode, quantum float64, z, x, y int) string {
	return mode.String() + "/" + ftoa(quantum) + "/" + tileKey(z, x, y)
}

func decodeForRender(payload []byte) ([]uint16, error) {
	if len(payload) != codec.PayloadBytes {
		return nil, apperr.New(apperr.KindInternal, "engine.decodeForRender")
	}
	out := make([]uint16, codec.TileDim*codec.TileDim)
	for i := range out {
		out[i] = uint16(payload[i*2]) | uint16(payload[i*2+1])<<8
	}
	return out, nil
}

func allNoData(decoded []uint16) bool {
	for _, v := range decoded {
		if v != codec.NoDataWire {
			return false
		}
	}
	return true
}
