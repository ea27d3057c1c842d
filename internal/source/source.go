// Package source provides read-only access to the DEM Source Store: a
// directory of Zstandard-compressed int16 raster cells, one per integer
// degree square, each with a JSON side-car describing its geotransform.
package source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/floodcontour/elevation-tiles/internal/apperr"
	"github.com/floodcontour/elevation-tiles/internal/codec"
)

// defaultCacheSize is used when NewStore is given a non-positive cache size.
const defaultCacheSize = 64

// CellID identifies a 1x1 degree source cell by its southwest corner.
type CellID struct {
	LatFloor int
	LonFloor int
}

func (c CellID) String() string {
	return fmt.Sprintf("%d_%d", c.LatFloor, c.LonFloor)
}

// sidecar mirrors the JSON metadata written alongside each .zst file.
type sidecar struct {
	Shape  [2]int     `json:"shape"`
	Bounds [4]float64 `json:"bounds"` // minLon, minLat, maxLon, maxLat
	NoData int16      `json:"nodata"`
	CRS    string     `json:"crs"`
}

// Array is a decompressed Source Cell: its raster plus the geotransform
// needed to index it from a geographic coordinate.
type Array struct {
	ID     CellID
	Rows   int
	Cols   int
	Data   []int16 // row-major, row 0 is the northernmost row
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// At returns the int16 value at the pixel nearest (lon, lat), with legacy
// NoData sentinels already normalized. Returns false if out of bounds.
func (a *Array) At(lon, lat float64) (int16, bool) {
	if lon < a.MinLon || lon > a.MaxLon || lat < a.MinLat || lat > a.MaxLat {
		return 0, false
	}
	lonSpan := a.MaxLon - a.MinLon
	latSpan := a.MaxLat - a.MinLat
	fx := (lon - a.MinLon) / lonSpan * float64(a.Cols)
	fy := (a.MaxLat - lat) / latSpan * float64(a.Rows)

	col := int(fx)
	row := int(fy)
	if col >= a.Cols {
		col = a.Cols - 1
	}
	if row >= a.Rows {
		row = a.Rows - 1
	}
	if col < 0 || row < 0 {
		return 0, false
	}
	return a.Data[row*a.Cols+col], true
}

// Store opens Source Cells by their integer-degree identity. It holds one
// long-lived zstd decoder, reused across calls per §4.1's "avoid per-call
// allocation" contract; klauspost/compress zstd.Decoder supports concurrent
// DecodeAll so a single shared decoder is sufficient. Decompressed arrays
// are kept in a bounded LRU so repeat lookups of the same cell - the common
// case, since one cell covers many neighboring tiles - skip the read and
// decompress entirely.
type Store struct {
	dir     string
	decoder *zstd.Decoder
	cache   *lru.Cache[CellID, *Array]

	warnOnce sync.Map // CellID -> struct{}, one SourceCorrupt warning per cell per process
	onWarn   func(id CellID, err error)
}

// NewStore opens a Source Store rooted at dir, backed by a Decompressed
// Source Array LRU holding up to cacheSize cells. cacheSize <= 0 falls back
// to defaultCacheSize.
func NewStore(dir string, cacheSize int) (*Store, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "source.NewStore", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "source.NewStore",
			fmt.Errorf("source directory %q is missing or not a directory", dir))
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[CellID, *Array](cacheSize)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "source.NewStore", err)
	}
	return &Store{dir: dir, decoder: dec, cache: cache}, nil
}

// OnWarn registers a callback invoked the first time a given cell is found
// corrupt. Intended for structured logging at the call site.
func (s *Store) OnWarn(fn func(id CellID, err error)) {
	s.onWarn = fn
}

// Close releases the store's decompression context.
func (s *Store) Close() {
	s.decoder.Close()
}

// Open returns the Decompressed Source Array for the given cell, or
// ok=false if the cell is absent (no such file) or corrupt. Absence and
// corruption are not errors: both are logged at most once and treated as a
// CoverageMiss by the caller. A hit in the Decompressed Source Array LRU
// skips the disk read and decompression entirely.
func (s *Store) Open(id CellID) (arr *Array, ok bool) {
	if cached, hit := s.cache.Get(id); hit {
		return cached, true
	}

	zstPath := filepath.Join(s.dir, id.String()+".zst")
	jsonPath := filepath.Join(s.dir, id.String()+".json")

	raw, err := os.ReadFile(zstPath)
	if err != nil {
		return nil, false // absent cell: ocean or un-ingested, not an error
	}

	meta, err := readSidecar(jsonPath)
	if err != nil {
		s.warn(id, fmt.Errorf("missing or invalid side-car: %w", err))
		return nil, false
	}

	decompressed, err := s.decoder.DecodeAll(raw, nil)
	if err != nil {
		s.warn(id, fmt.Errorf("zstd decompression failed: %w", err))
		return nil, false
	}

	rows, cols := meta.Shape[0], meta.Shape[1]
	wantBytes := rows * cols * 2
	if len(decompressed) != wantBytes {
		s.warn(id, fmt.Errorf("declared shape %dx%d implies %d bytes, got %d",
			rows, cols, wantBytes, len(decompressed)))
		return nil, false
	}

	data := make([]int16, rows*cols)
	for i := range data {
		v := int16(decompressed[i*2]) | int16(decompressed[i*2+1])<<8
		data[i] = codec.NormalizeElevation(v)
	}

	result := &Array{
		ID:     id,
		Rows:   rows,
		Cols:   cols,
		Data:   data,
		MinLon: meta.Bounds[0],
		MinLat: meta.Bounds[1],
		MaxLon: meta.Bounds[2],
		MaxLat: meta.Bounds[3],
	}
	s.cache.Add(id, result)
	return result, true
}

func (s *Store) warn(id CellID, err error) {
	if _, already := s.warnOnce.LoadOrStore(id, struct{}{}); already {
		return
	}
	if s.onWarn != nil {
		s.onWarn(id, err)
	}
}

func readSidecar(path string) (*sidecar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m sidecar
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.Shape[0] <= 0 || m.Shape[1] <= 0 {
		return nil, fmt.Errorf("invalid shape %v", m.Shape)
	}
	return &m, nil
}
