// Package loader resolves a web-Mercator (z, x, y) tile to a 256x256
// elevation mosaic assembled from the covering DEM Source Cells.
package loader

import (
	"github.com/floodcontour/elevation-tiles/internal/codec"
	"github.com/floodcontour/elevation-tiles/internal/coord"
	"github.com/floodcontour/elevation-tiles/internal/source"
)

// Resampling selects how a source array is sampled into the output mosaic.
type Resampling int

const (
	// Nearest is mandatory for wire payloads so point-sampling stays
	// deterministic and round-trippable.
	Nearest Resampling = iota
	// Bilinear is permitted only for presentation PNGs.
	Bilinear
)

// Mosaic is a 256x256 int16 elevation raster assembled for one tile.
type Mosaic struct {
	Data    []int16 // row-major, already normalized (NoDataElevation for gaps)
	HasData bool
}

// CellOpener resolves a Source Cell identity to its decompressed array.
// Satisfied by *source.Store.
type CellOpener interface {
	Open(id source.CellID) (*source.Array, bool)
}

// Loader assembles mosaics on demand. It holds no cache of its own: the
// Decompressed Source Array cache lives in the caller-supplied CellOpener,
// and the Mosaic Result is never cached per §4.2/§9.
type Loader struct {
	cells CellOpener
}

// New constructs a Loader backed by the given Source Store.
func New(cells CellOpener) *Loader {
	return &Loader{cells: cells}
}

// Load assembles the mosaic for tile (z, x, y) using the given resampling
// mode. Cells that are absent or partially cover the tile simply leave the
// corresponding output pixels as NoData.
func (l *Loader) Load(z, x, y int, mode Resampling) *Mosaic {
	minLon, minLat, maxLon, maxLat := coord.TileBounds(z, x, y)

	cellIDs := coord.CoveringCells(minLon, minLat, maxLon, maxLat)
	opened := make(map[[2]int]*source.Array, len(cellIDs))
	for _, c := range cellIDs {
		id := source.CellID{LonFloor: c[0], LatFloor: c[1]}
		if arr, ok := l.cells.Open(id); ok {
			opened[c] = arr
		}
	}

	mosaic := &Mosaic{Data: make([]int16, codec.TileDim*codec.TileDim)}
	for i := range mosaic.Data {
		mosaic.Data[i] = codec.NoDataElevation
	}
	if len(opened) == 0 {
		return mosaic
	}

	for py := 0; py < codec.TileDim; py++ {
		for px := 0; px < codec.TileDim; px++ {
			lon, lat := coord.PixelToLonLat(z, x, y, codec.TileDim, float64(px)+0.5, float64(py)+0.5)
			arr := pickCell(opened, lon, lat)
			if arr == nil {
				continue
			}

			var e int16
			var ok bool
			switch mode {
			case Bilinear:
				var v float64
				v, ok = bilinearSample(arr, lon, lat)
				e = int16(roundToInt(v))
			default:
				e, ok = nearestSample(arr, lon, lat)
			}
			if !ok || e == codec.NoDataElevation {
				continue
			}
			mosaic.Data[py*codec.TileDim+px] = e
			mosaic.HasData = true
		}
	}

	return mosaic
}

// pickCell resolves the covering cell for a geographic coordinate. Ties at a
// cell boundary resolve to the south/east cell. Longitude gets this for free
// from floor division (floor(lon) already names the cell to the east of a
// boundary); latitude needs an explicit step down because a cell's LatFloor
// names its southwest corner, so floor(lat) alone names the cell to the
// north of an exact-integer boundary.
func pickCell(opened map[[2]int]*source.Array, lon, lat float64) *source.Array {
	lonFloor := floorInt(lon)
	latFloor := floorInt(lat)
	if lat == float64(latFloor) {
		latFloor--
	}
	key := [2]int{lonFloor, latFloor}
	if arr, ok := opened[key]; ok {
		return arr
	}
	return nil
}

func nearestSample(arr *source.Array, lon, lat float64) (int16, bool) {
	v, ok := arr.At(lon, lat)
	if !ok {
		return 0, false
	}
	if v == codec.NoDataElevation {
		return 0, false
	}
	return v, true
}

// bilinearSample falls back to nearest if any of the four neighbors is
// NoData or out of bounds, since averaging across a NoData edge would
// fabricate elevation at a coastline.
func bilinearSample(arr *source.Array, lon, lat float64) (float64, bool) {
	lonSpan := arr.MaxLon - arr.MinLon
	latSpan := arr.MaxLat - arr.MinLat
	fx := (lon - arr.MinLon) / lonSpan * float64(arr.Cols)
	fy := (arr.MaxLat - lat) / latSpan * float64(arr.Rows)

	x0 := int(fx - 0.5)
	y0 := int(fy - 0.5)
	tx := fx - 0.5 - float64(x0)
	ty := fy - 0.5 - float64(y0)

	get := func(cx, cy int) (int16, bool) {
		if cx < 0 || cx >= arr.Cols || cy < 0 || cy >= arr.Rows {
			return 0, false
		}
		v := arr.Data[cy*arr.Cols+cx]
		if v == codec.NoDataElevation {
			return 0, false
		}
		return v, true
	}

	v00, ok00 := get(x0, y0)
	v10, ok10 := get(x0+1, y0)
	v01, ok01 := get(x0, y0+1)
	v11, ok11 := get(x0+1, y0+1)
	if !ok00 || !ok10 || !ok01 || !ok11 {
		return float64(nearestFallback(arr, lon, lat)), true
	}

	top := float64(v00)*(1-tx) + float64(v10)*tx
	bottom := float64(v01)*(1-tx) + float64(v11)*tx
	return top*(1-ty) + bottom*ty, true
}

func nearestFallback(arr *source.Array, lon, lat float64) int16 {
	v, ok := arr.At(lon, lat)
	if !ok || v == codec.NoDataElevation {
		return codec.NoDataElevation
	}
	return v
}

func floorInt(v float64) int {
	i := int(v)
	if v < 0 && float64(i) != v {
		i--
	}
	return i
}

func roundToInt(v float64) float64 {
	if v >= 0 {
		return float64(int(v + 0.5))
	}
	return float64(int(v - 0.5))
}
