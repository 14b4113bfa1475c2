package backend

import "image"

// DefaultTileSize is the edge length of a render tile in pixels.
const DefaultTileSize = 32

// Tile is a finished block of pixels in host result space.
//
// The host's result buffer has a bottom-left origin: X, Y locate the tile's
// lower-left corner, and Pix holds W*H RGBA quadruplets in rows from bottom
// to top.
type Tile struct {
	X, Y int
	W, H int
	Pix  []float32
}

// splitTiles covers a w x h frame with size x size rectangles in image space
// (top-left origin), row-major. Edge tiles are clipped to the frame.
func splitTiles(w, h, size int) []image.Rectangle {
	if w <= 0 || h <= 0 || size <= 0 {
		return nil
	}
	tiles := make([]image.Rectangle, 0, ((w+size-1)/size)*((h+size-1)/size))
	for y := 0; y < h; y += size {
		for x := 0; x < w; x += size {
			tiles = append(tiles, image.Rect(x, y, min(x+size, w), min(y+size, h)))
		}
	}
	return tiles
}

// toResultSpace converts an image-space rectangle of a frame of height h into
// the tile's lower-left corner in host result space.
func toResultSpace(r image.Rectangle, h int) (x, y int) {
	return r.Min.X, h - r.Max.Y
}
