// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"math"
	"sync"
)

// Framebuffer is an immutable snapshot of a host application's rendered
// window surface: a width*height grid of true-color pixels. ClientSession
// treats a Framebuffer as read-only for the duration of one tick (spec §5),
// publishing a fresh snapshot under lock rather than mutating pixels the
// encoders may still be reading.
type Framebuffer struct {
	Width, Height uint16
	Pixels        []Color // row-major, len == Width*Height

	// Version increases every time the producer publishes a new snapshot
	// with changed pixels. ClientSession compares it against the version
	// it last sent to derive the per-session frame_dirty flag (spec §3)
	// without a shared destructive "has anyone consumed this yet" bit,
	// so every attached session observes a frame exactly once regardless
	// of how many other sessions are also polling Snapshot this tick.
	Version uint64
}

// At returns the color at (x, y). Callers are expected to stay in bounds;
// FramebufferSource implementations only ever report dimensions they back
// with a fully populated Pixels slice.
func (fb *Framebuffer) At(x, y uint16) Color {
	return fb.Pixels[int(y)*int(fb.Width)+int(x)]
}

// Region extracts the pixels covering a rectangle, row-major, for handing to
// an Encoder.
func (fb *Framebuffer) Region(x, y, width, height uint16) []Color {
	out := make([]Color, int(width)*int(height))
	for row := uint16(0); row < height; row++ {
		srcStart := int(y+row)*int(fb.Width) + int(x)
		copy(out[int(row)*int(width):], fb.Pixels[srcStart:srcStart+int(width)])
	}
	return out
}

// Cursor is the pointer shape and hotspot a FramebufferSource reports for the
// Cursor pseudo-encoding. A Width/Height of zero tells the client to hide
// the cursor. PixelData and MaskData are already in row-major/packed-bit
// form as spec §4.6 requires on the wire.
type Cursor struct {
	Width, Height      uint16
	HotspotX, HotspotY uint16
	PixelData          []Color
	MaskData           []byte
}

// FramebufferSource supplies the pixels a ClientSession encodes and sends.
// Implementations back it with whatever the host application renders;
// ServerDispatcher only ever consumes this interface, never a concrete
// rendering backend, so headless test doubles and the bundled synthetic
// generator share one seam (spec §4.8/§4.9).
type FramebufferSource interface {
	// Snapshot returns the current framebuffer. Implementations must
	// return a value safe to read concurrently with the next call to
	// Snapshot — typically by allocating a fresh Pixels slice per call,
	// or by publishing one under a lock and handing out the old one.
	Snapshot() *Framebuffer

	// Cursor returns the current cursor shape. Implementations with no
	// real cursor (e.g. a touch-only target) may return a fixed default
	// arrow Cursor value rather than an empty one; both are acceptable
	// producer behavior (original_source/VncServer.cpp's
	// createCursor(Qt::ArrowCursor) fallback).
	Cursor() Cursor
}

// SyntheticFramebufferSource is a demo FramebufferSource that renders a
// drifting HSV color gradient, grounded on the moving-gradient generators in
// bradfitz-rfbgo/demo.go and patdhlk-rfb/example/main.go. It requires no
// host window system and is what cmd/vncserverd wires up by default.
type SyntheticFramebufferSource struct {
	mu      sync.Mutex
	width   uint16
	height  uint16
	phase   float64
	version uint64
	conv    *ColorFormatConverter
}

// NewSyntheticFramebufferSource creates a gradient demo source of the given
// dimensions.
func NewSyntheticFramebufferSource(width, height uint16) *SyntheticFramebufferSource {
	return &SyntheticFramebufferSource{
		width:   width,
		height:  height,
		version: 1,
		conv:    NewColorFormatConverter(),
	}
}

// Advance steps the gradient's phase forward and bumps the version.
// ServerDispatcher never calls it; the owner of the source does (in
// cmd/vncserverd, an animation goroutine on its own ticker), and every
// attached client observes the same animation.
func (s *SyntheticFramebufferSource) Advance(step float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = math.Mod(s.phase+step, 360.0)
	s.version++
}

// Snapshot renders the current gradient frame.
func (s *SyntheticFramebufferSource) Snapshot() *Framebuffer {
	s.mu.Lock()
	phase := s.phase
	width, height := s.width, s.height
	version := s.version
	s.mu.Unlock()

	pixels := make([]Color, int(width)*int(height))
	for y := uint16(0); y < height; y++ {
		for x := uint16(0); x < width; x++ {
			hue := math.Mod(phase+360.0*float64(x)/float64(width), 360.0)
			value := 40.0 + 60.0*float64(y)/float64(height)
			pixels[int(y)*int(width)+int(x)] = s.conv.HSVToColor(hue, 80.0, value)
		}
	}

	return &Framebuffer{Width: width, Height: height, Pixels: pixels, Version: version}
}

// Cursor returns a small fixed arrow cursor, the dummy-cursor fallback
// described in original_source/VncServer.cpp for targets with no native
// pointer shape.
func (s *SyntheticFramebufferSource) Cursor() Cursor {
	const size = 8
	pixels := make([]Color, size*size)
	mask := make([]byte, calculateMaskDataSize(size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x <= y {
				pixels[y*size+x] = ColorBlack
				mask[y*((size+7)/8)+x/8] |= 1 << (7 - uint(x%8))
			} else {
				pixels[y*size+x] = ColorWhite
			}
		}
	}
	return Cursor{
		Width: size, Height: size,
		HotspotX: 0, HotspotY: 0,
		PixelData: pixels,
		MaskData:  mask,
	}
}

// Resize changes the synthetic source's dimensions, bumping the version so
// the next Snapshot is seen as dirty by every attached session and picks up
// a DesktopSize pseudo-encoding update.
func (s *SyntheticFramebufferSource) Resize(width, height uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width = width
	s.height = height
	s.version++
}
