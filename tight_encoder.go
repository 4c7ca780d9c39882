// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"io"
)

// tightJpegControlByte is the Tight encoding's compression-control byte
// selecting the JPEG sub-mode (the top 4 bits are 1001, spec §4.5).
const tightJpegControlByte = 0x90

// maxSlabWidth bounds a single Tight-JPEG slab's width; wider rectangles are
// split into vertical strips, matching the ceiling most Tight
// implementations apply to keep JPEG decode latency low per slab.
const maxSlabWidth = 2048

// TightEncoder produces Tight-encoded rectangles restricted to the
// JPEG-only sub-mode described in spec §4.5: no basic/fill/palette
// sub-encodings, only compression-control byte 0x90 followed by a compact
// length and a JPEG byte stream. Wide rectangles are split into ≤2048px
// vertical slabs, each independently JPEG-compressed, so no single slab
// forces an oversized JPEG decode on the client.
type TightEncoder struct {
	jpeg    JpegEncoder
	quality int
}

// NewTightEncoder creates a Tight-JPEG encoder using the given JpegEncoder
// and JPEG quality (0-100).
func NewTightEncoder(jpegEncoder JpegEncoder, quality int) *TightEncoder {
	return &TightEncoder{jpeg: jpegEncoder, quality: quality}
}

// Type returns the encoding type identifier for Tight encoding.
func (*TightEncoder) Type() int32 {
	return 7
}

// SetQuality changes the JPEG quality (0-100) subsequent Write calls use.
// ClientSession calls this whenever SetEncodings renegotiates
// jpeg_quality_level (spec §4.7), so one TightEncoder instance tracks
// quality across a session's lifetime rather than being rebuilt per rect.
func (te *TightEncoder) SetQuality(quality int) {
	te.quality = quality
}

// Write JPEG-compresses one already-sliced slab and writes its Tight
// sub-rectangle body: for the JPEG-only sub-mode this is one
// compression-control byte, one compact-length field, and the JPEG bytes.
//
// Splitting a wide source rectangle into ≤2048px slabs (spec §4.5) happens
// one layer up, in FramebufferUpdateWriter.WriteUpdate, because each slab
// needs its own full rectangle header (geometry + encoding type) on the
// wire — a single Encoder.Write call only ever produces one rectangle's
// body, never several back-to-back headerless ones.
func (te *TightEncoder) Write(w io.Writer, pf PixelFormat, rect Rectangle, pixels []Color, _ []byte) error {
	expected := int(rect.Width) * int(rect.Height)
	if len(pixels) != expected {
		return encodingError("TightEncoder.Write", "pixel count does not match rectangle dimensions", nil)
	}
	if int(rect.Width) > maxSlabWidth {
		return encodingError("TightEncoder.Write", "slab wider than maxSlabWidth reached TightEncoder.Write unsplit", nil)
	}

	jpegBytes, err := te.jpeg.Encode(pixels, int(rect.Width), int(rect.Height), te.quality)
	te.jpeg.Release()
	if err != nil {
		return encodingError("TightEncoder.Write", "failed to JPEG-compress slab", err)
	}

	return writeTightJpegSlab(w, jpegBytes)
}

// splitIntoSlabs divides a full-width Tight rectangle into ≤2048px-wide
// vertical slabs (spec §4.5), each carrying its own geometry and a copy of
// the pixels it covers. A rectangle no wider than maxSlabWidth returns
// itself unchanged, in a single-element slice.
func splitIntoSlabs(rect Rectangle, pixels []Color) []pendingRect {
	width := int(rect.Width)
	if width <= maxSlabWidth {
		return []pendingRect{{rect: rect, pixels: pixels}}
	}

	height := int(rect.Height)
	var out []pendingRect
	for slabX := 0; slabX < width; slabX += maxSlabWidth {
		slabWidth := width - slabX
		if slabWidth > maxSlabWidth {
			slabWidth = maxSlabWidth
		}

		slab := make([]Color, slabWidth*height)
		for row := 0; row < height; row++ {
			src := row*width + slabX
			copy(slab[row*slabWidth:], pixels[src:src+slabWidth])
		}

		out = append(out, pendingRect{
			rect: Rectangle{
				X:            rect.X + uint16(slabX),
				Y:            rect.Y,
				Width:        uint16(slabWidth),
				Height:       rect.Height,
				EncodingType: rect.EncodingType,
			},
			pixels: slab,
		})
	}
	return out
}

// writeTightJpegSlab writes one JPEG-mode Tight sub-rectangle: the control
// byte, the compact variable-length size, then the JPEG stream itself.
func writeTightJpegSlab(w io.Writer, jpegBytes []byte) error {
	if _, err := w.Write([]byte{tightJpegControlByte}); err != nil {
		return networkError("writeTightJpegSlab", "failed to write control byte", err)
	}
	if err := writeCompactLength(w, len(jpegBytes)); err != nil {
		return err
	}
	if _, err := w.Write(jpegBytes); err != nil {
		return networkError("writeTightJpegSlab", "failed to write JPEG data", err)
	}
	return nil
}

// writeCompactLength writes Tight's variable-length size field: 1 byte for
// lengths under 128, 2 bytes for lengths under 16384, 3 bytes otherwise,
// each byte but the last carrying a continuation bit in its high bit and 7
// bits of payload, least-significant group first.
func writeCompactLength(w io.Writer, n int) error {
	if n < 0 {
		return encodingError("writeCompactLength", "negative length", nil)
	}

	var buf []byte
	switch {
	case n < 128:
		buf = []byte{byte(n)}
	case n < 16384:
		buf = []byte{
			byte(n&0x7f) | 0x80,
			byte(n >> 7),
		}
	default:
		buf = []byte{
			byte(n&0x7f) | 0x80,
			byte((n>>7)&0x7f) | 0x80,
			byte(n >> 14),
		}
	}

	if _, err := w.Write(buf); err != nil {
		return networkError("writeCompactLength", "failed to write compact length", err)
	}
	return nil
}
