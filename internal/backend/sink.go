package backend

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/tiff"
)

// Sink receives a frame tile by tile.
//
// Begin is called once per frame before any tile, End once after the last.
// AddTile may be called concurrently from render workers.
type Sink interface {
	Begin(width, height int) error
	AddTile(t Tile) error
	End() error
}

// frameBuffer assembles tiles into a top-left origin image.
// Writes are serialized and alpha is forced to opaque.
type frameBuffer struct {
	mu    sync.Mutex
	img   *image.NRGBA
	tiles int
}

func (b *frameBuffer) begin(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", w, h)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.img = image.NewNRGBA(image.Rect(0, 0, w, h))
	b.tiles = 0
	return nil
}

func (b *frameBuffer) add(t Tile) error {
	if len(t.Pix) != t.W*t.H*4 {
		return fmt.Errorf("tile at (%d,%d): %d samples for %dx%d", t.X, t.Y, len(t.Pix), t.W, t.H)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.img == nil {
		return fmt.Errorf("tile before begin")
	}
	h := b.img.Bounds().Dy()
	for row := 0; row < t.H; row++ {
		// result space row t.Y+row counts up from the bottom edge
		y := h - 1 - (t.Y + row)
		for col := 0; col < t.W; col++ {
			i := (row*t.W + col) * 4
			b.img.SetNRGBA(t.X+col, y, color.NRGBA{
				R: toByte(t.Pix[i]),
				G: toByte(t.Pix[i+1]),
				B: toByte(t.Pix[i+2]),
				A: 0xff,
			})
		}
	}
	b.tiles++
	return nil
}

func (b *frameBuffer) take() (*image.NRGBA, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.img, b.tiles
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xff
	}
	return uint8(v*255 + 0.5)
}

// MemorySink keeps the most recent frame in memory.
type MemorySink struct {
	buf    frameBuffer
	mu     sync.Mutex
	last   *image.NRGBA
	frames int
	tiles  int
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Begin(w, h int) error { return s.buf.begin(w, h) }
func (s *MemorySink) AddTile(t Tile) error { return s.buf.add(t) }

func (s *MemorySink) End() error {
	img, tiles := s.buf.take()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = img
	s.frames++
	s.tiles = tiles
	return nil
}

// Frame returns the last completed frame, or nil.
func (s *MemorySink) Frame() *image.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Frames returns the number of completed frames.
func (s *MemorySink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Tiles returns the tile count of the last completed frame.
func (s *MemorySink) Tiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiles
}

// FileSink writes each completed frame as a deflate-compressed TIFF.
//
// If the path contains a printf verb (e.g. "frame-%03d.tif") it is formatted
// with the 1-based frame number; otherwise every frame overwrites the file.
type FileSink struct {
	buf     frameBuffer
	pattern string

	mu      sync.Mutex
	frames  int
	written []string
}

// NewFileSink creates a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{pattern: path}
}

func (s *FileSink) Begin(w, h int) error { return s.buf.begin(w, h) }
func (s *FileSink) AddTile(t Tile) error { return s.buf.add(t) }

// End encodes the assembled frame.
func (s *FileSink) End() error {
	img, _ := s.buf.take()
	if img == nil {
		return fmt.Errorf("end before begin")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	path := s.pattern
	if strings.Contains(path, "%") {
		path = fmt.Sprintf(path, s.frames)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	s.written = append(s.written, path)
	return nil
}

// Written lists the files produced so far, in frame order.
func (s *FileSink) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	copy(out, s.written)
	return out
}

// discardSink drops frames.
type discardSink struct{}

func (discardSink) Begin(int, int) error { return nil }
func (discardSink) AddTile(Tile) error   { return nil }
func (discardSink) End() error           { return nil }
