package engine

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strconv"

	"github.com/floodcontour/elevation-tiles/internal/codec"
	"github.com/floodcontour/elevation-tiles/internal/colormap"
)

// encodeLUTPNG maps a decoded uint16 tile through lut and PNG-encodes the
// result. PNG is a compatibility format here, not the primary wire format,
// so compression favors speed over size.
func encodeLUTPNG(decoded []uint16, lut *colormap.LUT) ([]byte, error) {
	img := getRGBA()
	defer putRGBA(img)
	// LUT colors carry straight (non-premultiplied) alpha, so they are
	// written through an NRGBA view of the pooled buffer.
	dst := &image.NRGBA{Pix: img.Pix, Stride: img.Stride, Rect: img.Rect}
	for i, u := range decoded {
		c := lut[u]
		dst.SetNRGBA(i%codec.TileDim, i/codec.TileDim, color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A})
	}
	return encodePNG(dst)
}

// encodeSolidPNG fills an entire tile with a single color, the fast path
// for all-NoData mosaics.
func encodeSolidPNG(c colormap.RGBA) ([]byte, error) {
	img := getRGBA()
	defer putRGBA(img)
	dst := &image.NRGBA{Pix: img.Pix, Stride: img.Stride, Rect: img.Rect}
	solid := color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
	for y := 0; y < codec.TileDim; y++ {
		for x := 0; x < codec.TileDim; x++ {
			dst.SetNRGBA(x, y, solid)
		}
	}
	return encodePNG(dst)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}
