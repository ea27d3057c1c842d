package engine

import (
	"image"
	"sync"

	"github.com/floodcontour/elevation-tiles/internal/codec"
)

// rgbaPool recycles the single 256x256 *image.RGBA shape every render call
// needs, avoiding a fresh allocation per tile on the hot PNG-encode path.
var rgbaPool = sync.Pool{
	New: func() interface{} {
		return image.NewRGBA(image.Rect(0, 0, codec.TileDim, codec.TileDim))
	},
}

func getRGBA() *image.RGBA {
	img := rgbaPool.Get().(*image.RGBA)
	clear(img.Pix)
	return img
}

func putRGBA(img *image.RGBA) {
	if img == nil {
		return
	}
	rgbaPool.Put(img)
}
