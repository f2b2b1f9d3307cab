package tile_source

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"golang.org/x/image/draw"
)

const TileSize = 256

var (
	placeholderFill   = color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}
	placeholderBorder = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
)

// Placeholder returns the PNG served for tiles that are not available:
// a flat #f0f0f0 square with a 1px #dddddd border.
var Placeholder = sync.OnceValue(renderPlaceholder)

func renderPlaceholder() []byte {
	bounds := image.Rect(0, 0, TileSize, TileSize)
	img := image.NewRGBA(bounds)

	draw.Draw(img, bounds, &image.Uniform{C: placeholderBorder}, image.Point{}, draw.Src)
	draw.Draw(img, bounds.Inset(1), &image.Uniform{C: placeholderFill}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic("failed to encode placeholder tile: " + err.Error())
	}
	return buf.Bytes()
}
