// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Rectangle represents a rectangular region of the framebuffer with an
// associated encoding type. Rectangles are the fundamental unit of
// framebuffer updates in the VNC protocol: each specifies the screen area
// being updated and the encoding used to transmit its pixel data.
//
// Pseudo-encodings repurpose the header fields per spec §4.6/§4.7: Cursor
// uses X/Y as the hotspot and Width/Height as the cursor dimensions;
// DesktopSize uses Width/Height as the new framebuffer size and ignores X/Y.
type Rectangle struct {
	X, Y          uint16
	Width, Height uint16
	EncodingType  int32
}

// FramebufferUpdateWriter assembles and writes FramebufferUpdate messages
// (message type 0) to a connected client, delegating each rectangle's body
// to the Encoder selected for its encoding type. This is the write-side
// counterpart of the teacher's FramebufferUpdateMessage.Read: instead of
// parsing a server's rectangle stream, it produces one.
type FramebufferUpdateWriter struct {
	encoders map[int32]Encoder
}

// NewFramebufferUpdateWriter creates a writer with the given encoder set.
// The caller is expected to always include a RawEncoder as a fallback.
func NewFramebufferUpdateWriter(encoders []Encoder) *FramebufferUpdateWriter {
	m := make(map[int32]Encoder, len(encoders))
	for _, enc := range encoders {
		m[enc.Type()] = enc
	}
	return &FramebufferUpdateWriter{encoders: m}
}

// Encoder returns the encoder registered for an encoding type, and whether
// one was found.
func (fw *FramebufferUpdateWriter) Encoder(encodingType int32) (Encoder, bool) {
	enc, ok := fw.encoders[encodingType]
	return enc, ok
}

// tightEncodingType is the Tight encoding's wire identifier, used to spot
// rectangles that may need slab-splitting before they are counted.
const tightEncodingType int32 = 7

// expandSlabs splits any Tight-encoded rectangle wider than maxSlabWidth
// into multiple independently-headered slabs (spec §4.5), so the rectangle
// count written in the FramebufferUpdate header matches the number of
// rect-header-plus-body units actually placed on the wire. Every other
// rectangle passes through unchanged.
func (fw *FramebufferUpdateWriter) expandSlabs(rects []pendingRect) []pendingRect {
	out := make([]pendingRect, 0, len(rects))
	for _, pr := range rects {
		if pr.rect.EncodingType != tightEncodingType || int(pr.rect.Width) <= maxSlabWidth {
			out = append(out, pr)
			continue
		}
		out = append(out, splitIntoSlabs(pr.rect, pr.pixels)...)
	}
	return out
}

// pendingRect couples a Rectangle header with the pixel data (or raw bytes,
// for pseudo-encodings) its encoder needs to produce a rectangle body.
type pendingRect struct {
	rect   Rectangle
	pixels []Color
	mask   []byte
}

// WriteUpdate writes one FramebufferUpdate message containing the given
// rectangles, each encoded with the writer's Encoder for its EncodingType.
// Rectangles are written in the order given; spec §4.2 places pseudo-encoding
// rectangles (Cursor, DesktopSize) first so the client applies metadata
// before subsequent raw/tight pixel rectangles.
func (fw *FramebufferUpdateWriter) WriteUpdate(w io.Writer, pf PixelFormat, rects []pendingRect) error {
	rects = fw.expandSlabs(rects)

	if len(rects) > MaxRectanglesPerUpdate {
		return protocolError("FramebufferUpdateWriter.WriteUpdate",
			fmt.Sprintf("too many rectangles in update: %d (max %d)", len(rects), MaxRectanglesPerUpdate), nil)
	}

	header := []interface{}{
		uint8(0),           // message type: FramebufferUpdate
		uint8(0),           // padding
		uint16(len(rects)), // number of rectangles
	}
	for _, val := range header {
		if err := binary.Write(w, binary.BigEndian, val); err != nil {
			return networkError("FramebufferUpdateWriter.WriteUpdate", "failed to write update header", err)
		}
	}

	for i, pr := range rects {
		enc, ok := fw.encoders[pr.rect.EncodingType]
		if !ok {
			return unsupportedError("FramebufferUpdateWriter.WriteUpdate",
				fmt.Sprintf("no encoder registered for encoding type %d", pr.rect.EncodingType), nil)
		}

		rectHeader := []interface{}{pr.rect.X, pr.rect.Y, pr.rect.Width, pr.rect.Height, pr.rect.EncodingType}
		for _, val := range rectHeader {
			if err := binary.Write(w, binary.BigEndian, val); err != nil {
				return networkError("FramebufferUpdateWriter.WriteUpdate",
					fmt.Sprintf("failed to write rectangle %d header", i), err)
			}
		}

		if err := enc.Write(w, pf, pr.rect, pr.pixels, pr.mask); err != nil {
			return encodingError("FramebufferUpdateWriter.WriteUpdate",
				fmt.Sprintf("failed to encode rectangle %d", i), err)
		}
	}

	return nil
}
