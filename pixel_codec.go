// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"io"
)

// PixelWriter converts Color values sampled from a source framebuffer into
// the wire pixel format negotiated with a client and writes them to a
// stream. It is the write-side counterpart of the teacher's PixelReader:
// the client never receives indexed pixels (spec §1), so there is no
// color-map lookup path here, only the true-color shift/mask encoding.
type PixelWriter struct {
	pixelFormat PixelFormat
	byteOrder   binary.ByteOrder
}

// NewPixelWriter creates a new pixel writer for the given pixel format.
func NewPixelWriter(pixelFormat PixelFormat) *PixelWriter {
	var byteOrder binary.ByteOrder = binary.LittleEndian
	if pixelFormat.BigEndian {
		byteOrder = binary.BigEndian
	}

	return &PixelWriter{
		pixelFormat: pixelFormat,
		byteOrder:   byteOrder,
	}
}

// BytesPerPixel returns the number of bytes per pixel for the current pixel format.
func (pw *PixelWriter) BytesPerPixel() int {
	return int(pw.pixelFormat.BPP / 8)
}

// colorToPixel packs a Color into a raw pixel value using the format's
// shift/max fields. Color channels are 16-bit; they are truncated (not
// rescaled) to the target channel width, matching the bit-shift behavior
// real VNC servers use for sub-16-bit true-color formats.
func (pw *PixelWriter) colorToPixel(c Color) uint32 {
	pf := pw.pixelFormat
	r := (uint32(c.R) >> (16 - countBits(pf.RedMax))) & uint32(pf.RedMax)
	g := (uint32(c.G) >> (16 - countBits(pf.GreenMax))) & uint32(pf.GreenMax)
	b := (uint32(c.B) >> (16 - countBits(pf.BlueMax))) & uint32(pf.BlueMax)
	return (r << pf.RedShift) | (g << pf.GreenShift) | (b << pf.BlueShift)
}

// pixelToBytes serializes a raw pixel value into wire bytes for the format's
// byte order and bit depth.
func (pw *PixelWriter) pixelToBytes(pixel uint32) []byte {
	bytesPerPixel := pw.BytesPerPixel()
	out := make([]byte, bytesPerPixel)
	switch bytesPerPixel {
	case 1:
		out[0] = uint8(pixel)
	case 2:
		pw.byteOrder.PutUint16(out, uint16(pixel))
	case 4:
		pw.byteOrder.PutUint32(out, pixel)
	}
	return out
}

// WriteColor converts a Color to the negotiated pixel format and writes it.
func (pw *PixelWriter) WriteColor(w io.Writer, c Color) error {
	pixel := pw.colorToPixel(c)
	_, err := w.Write(pw.pixelToBytes(pixel))
	return err
}

// WriteColors writes a row-major slice of colors as consecutive wire pixels.
// Used by RawEncoder and the cursor/tight encoders to flush whole rectangles
// in a single buffered write.
func (pw *PixelWriter) WriteColors(w io.Writer, colors []Color) error {
	bytesPerPixel := pw.BytesPerPixel()
	buf := make([]byte, len(colors)*bytesPerPixel)
	for i, c := range colors {
		pixel := pw.colorToPixel(c)
		copy(buf[i*bytesPerPixel:], pw.pixelToBytes(pixel))
	}
	if _, err := w.Write(buf); err != nil {
		return networkError("PixelWriter.WriteColors", "failed to write pixel data", err)
	}
	return nil
}

// calculatePixelDataSize calculates the size needed for pixel data.
func calculatePixelDataSize(width, height uint16, pixelFormat PixelFormat) int {
	bytesPerPixel := int(pixelFormat.BPP / 8)
	return int(width) * int(height) * bytesPerPixel
}

// calculateMaskDataSize calculates the size needed for cursor mask data.
func calculateMaskDataSize(width, height uint16) int {
	bytesPerRow := (width + 7) / 8
	return int(bytesPerRow) * int(height)
}
