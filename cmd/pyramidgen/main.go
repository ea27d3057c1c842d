// Command pyramidgen renders the precompressed .u16 artifact pyramid offline
// from a directory of DEM source cells.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/floodcontour/elevation-tiles/internal/artifactstore"
	"github.com/floodcontour/elevation-tiles/internal/loader"
	"github.com/floodcontour/elevation-tiles/internal/pyramid"
	"github.com/floodcontour/elevation-tiles/internal/source"
)

var (
	version = "dev"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	var (
		sourceDir   string
		outputDir   string
		minZoom     int
		maxZoom     int
		bbox        string
		concurrency int
		variants    []string
		verbose     bool
		cacheSize   int
	)

	root := &cobra.Command{
		Use:   "pyramidgen",
		Short: "Render the precompressed elevation tile pyramid from DEM source cells",
		RunE: func(cmd *cobra.Command, args []string) error {
			bounds, err := parseBBox(bbox)
			if err != nil {
				return err
			}

			store, err := source.NewStore(sourceDir, cacheSize)
			if err != nil {
				return fmt.Errorf("opening source store: %w", err)
			}
			defer store.Close()
			store.OnWarn(func(id source.CellID, err error) {
				logger.Warn("skipping corrupt source cell", "cell", id.String(), "error", err)
			})

			gen, err := artifactstore.NewGenerator(outputDir, version)
			if err != nil {
				return fmt.Errorf("opening artifact generator: %w", err)
			}

			encVariants, err := parseVariants(variants)
			if err != nil {
				return err
			}

			ld := loader.New(store)
			stats, err := pyramid.Generate(pyramid.Config{
				MinZoom:     minZoom,
				MaxZoom:     maxZoom,
				Bounds:      bounds,
				Concurrency: concurrency,
				Variants:    encVariants,
				Verbose:     verbose,
			}, ld, gen)
			if err != nil {
				return fmt.Errorf("generating pyramid: %w", err)
			}

			logger.Info("pyramid generation complete",
				"total_tiles", stats.TotalTiles,
				"total_bytes", humanize.Bytes(uint64(stats.TotalBytes)),
				"zoom_levels", len(stats.Zooms))
			for _, z := range stats.Zooms {
				logger.Info("zoom level summary", "zoom", z.Zoom, "tile_count", z.TileCount, "skipped_all_nodata", z.SkippedAllNoData)
			}
			return nil
		},
	}

	root.Flags().StringVar(&sourceDir, "source-dir", "./data/source", "Directory of DEM source cells (.zst + .json sidecars)")
	root.Flags().StringVar(&outputDir, "output-dir", "./data/precompressed", "Output directory for the artifact pyramid")
	root.Flags().IntVar(&minZoom, "min-zoom", 0, "Minimum zoom level")
	root.Flags().IntVar(&maxZoom, "max-zoom", 11, "Maximum zoom level")
	root.Flags().StringVar(&bbox, "bbox", "-180,-85,180,85", "Bounding box: minLon,minLat,maxLon,maxLat")
	root.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Number of parallel workers")
	root.Flags().StringSliceVar(&variants, "variants", []string{"identity", "br", "gzip"}, "Content-encoding variants to write")
	root.Flags().BoolVar(&verbose, "verbose", true, "Show per-zoom progress bars")
	root.Flags().IntVar(&cacheSize, "source-cache-size", 128, "Decompressed source cell LRU size; a full zoom sweep revisits the same cells across many neighboring tiles")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseBBox(s string) (pyramid.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return pyramid.Bounds{}, fmt.Errorf("bbox must have 4 comma-separated components, got %q", s)
	}
	var vals [4]float64
	for i, p := range parts {
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%g", &vals[i]); err != nil {
			return pyramid.Bounds{}, fmt.Errorf("bbox component %q: %w", p, err)
		}
	}
	return pyramid.Bounds{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}, nil
}

func parseVariants(names []string) ([]artifactstore.Encoding, error) {
	out := make([]artifactstore.Encoding, 0, len(names))
	for _, n := range names {
		switch n {
		case "identity":
			out = append(out, artifactstore.EncodingIdentity)
		case "br", "brotli":
			out = append(out, artifactstore.EncodingBrotli)
		case "gzip", "gz":
			out = append(out, artifactstore.EncodingGzip)
		default:
			return nil, fmt.Errorf("unknown variant %q (supported: identity, br, gzip)", n)
		}
	}
	return out, nil
}
