// Package pyramid implements the offline pyramid generator: it walks every
// (z, x, y) tile across a zoom range and bounding box, mosaics each one from
// the DEM source store, and writes the precompressed artifact pyramid.
package pyramid

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/floodcontour/elevation-tiles/internal/artifactstore"
	"github.com/floodcontour/elevation-tiles/internal/codec"
	"github.com/floodcontour/elevation-tiles/internal/coord"
	"github.com/floodcontour/elevation-tiles/internal/loader"
)

// Bounds is a WGS84 bounding box.
type Bounds struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Config holds pyramid generation parameters.
type Config struct {
	MinZoom     int
	MaxZoom     int
	Bounds      Bounds
	Concurrency int
	Variants    []artifactstore.Encoding
	Verbose     bool
}

// ZoomResult summarizes one zoom level's generation pass.
type ZoomResult struct {
	Zoom            int
	TileCount       int
	SkippedAllNoData int
}

// Stats summarizes a full pyramid generation run.
type Stats struct {
	Zooms      []ZoomResult
	TotalTiles int64
	TotalBytes int64
}

type tileJob struct {
	Z, X, Y int
}

// Generate mosaics and writes every tile in the configured zoom range and
// bounding box, then writes the manifest.
func Generate(cfg Config, ld *loader.Loader, gen *artifactstore.Generator) (Stats, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if len(cfg.Variants) == 0 {
		cfg.Variants = []artifactstore.Encoding{artifactstore.EncodingIdentity}
	}

	var stats Stats
	zoomStats := make(map[int]artifactstore.ZoomStats)

	for z := cfg.MaxZoom; z >= cfg.MinZoom; z-- {
		tiles := coord.TilesInBounds(z, cfg.Bounds.MinLon, cfg.Bounds.MinLat, cfg.Bounds.MaxLon, cfg.Bounds.MaxLat)
		if len(tiles) == 0 {
			continue
		}

		var zp *zoomProgress
		if cfg.Verbose {
			zp = startZoomProgress(z, int64(len(tiles)))
		}

		var tileCount, skipped, totalBytes atomic.Int64
		jobs := make(chan tileJob, cfg.Concurrency*2)
		errCh := make(chan error, 1)
		var wg sync.WaitGroup

		for w := 0; w < cfg.Concurrency; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for job := range jobs {
					mosaic := ld.Load(job.Z, job.X, job.Y, loader.Nearest)

					var payload []byte
					if !mosaic.HasData {
						skipped.Add(1)
						if zp != nil {
							zp.tileSkipped()
						}
						continue
					}
					payload = codec.EncodeTile(mosaic.Data)

					if err := gen.WriteTile(job.Z, job.X, job.Y, payload, cfg.Variants); err != nil {
						select {
						case errCh <- fmt.Errorf("writing tile z%d/%d/%d: %w", job.Z, job.X, job.Y, err):
						default:
						}
						return
					}

					tileCount.Add(1)
					totalBytes.Add(int64(len(payload)))
					if zp != nil {
						zp.tileWritten()
					}
				}
			}()
		}

		for _, t := range tiles {
			jobs <- tileJob{Z: t[0], X: t[1], Y: t[2]}
		}
		close(jobs)
		wg.Wait()
		if zp != nil {
			zp.stopAndFinalize()
		}

		select {
		case err := <-errCh:
			return Stats{}, err
		default:
		}

		zr := ZoomResult{Zoom: z, TileCount: int(tileCount.Load()), SkippedAllNoData: int(skipped.Load())}
		stats.Zooms = append(stats.Zooms, zr)
		stats.TotalTiles += tileCount.Load()
		stats.TotalBytes += totalBytes.Load()
		zoomStats[z] = artifactstore.ZoomStats{TileCount: zr.TileCount, SkippedAllNoData: zr.SkippedAllNoData}
	}

	if err := gen.WriteManifest(zoomStats, cfg.Variants); err != nil {
		return stats, fmt.Errorf("writing manifest: %w", err)
	}
	return stats, nil
}

// zoomProgress redraws an in-place terminal line for one zoom level's tile
// walk. Written and skipped tiles are tracked separately so the line can
// report how much of the pass was genuine ocean/NoData rather than folding
// both into a single opaque "done" count.
type zoomProgress struct {
	zoom    int
	total   int64
	written atomic.Int64
	skipped atomic.Int64
	start   time.Time
	stop    chan struct{}
	mu      sync.Mutex
}

func startZoomProgress(zoom int, total int64) *zoomProgress {
	zp := &zoomProgress{zoom: zoom, total: total, start: time.Now(), stop: make(chan struct{})}
	go zp.loop()
	return zp
}

func (zp *zoomProgress) tileWritten() { zp.written.Add(1) }
func (zp *zoomProgress) tileSkipped() { zp.skipped.Add(1) }

func (zp *zoomProgress) loop() {
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-zp.stop:
			return
		case <-ticker.C:
			zp.render()
		}
	}
}

func (zp *zoomProgress) stopAndFinalize() {
	close(zp.stop)
	zp.render()
	fmt.Fprintln(os.Stderr)
}

const zoomProgressBarWidth = 24

func (zp *zoomProgress) render() {
	zp.mu.Lock()
	defer zp.mu.Unlock()

	written := zp.written.Load()
	skipped := zp.skipped.Load()
	done := written + skipped

	var frac float64
	if zp.total > 0 {
		frac = float64(done) / float64(zp.total)
	}
	if frac > 1 {
		frac = 1
	}
	filled := int(float64(zoomProgressBarWidth) * frac)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", zoomProgressBarWidth-filled)

	elapsed := time.Since(zp.start).Truncate(time.Second)
	var rate float64
	if s := elapsed.Seconds(); s > 0 {
		rate = float64(done) / s
	}

	fmt.Fprintf(os.Stderr, "\rzoom %2d [%s] %d/%d tiles (%d ocean/nodata)  %.0f/s  %s\033[K",
		zp.zoom, bar, done, zp.total, skipped, rate, elapsed)
}
