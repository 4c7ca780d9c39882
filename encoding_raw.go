// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"io"
)

// RawEncoder produces uncompressed pixel data as defined in RFC 6143 Section
// 7.7.1. Every pixel is written in the client's negotiated PixelFormat with
// no compression, making it the mandatory fallback encoding every client
// must support and the worst case for bandwidth.
type RawEncoder struct{}

// Type returns the encoding type identifier for Raw encoding.
func (*RawEncoder) Type() int32 {
	return 0
}

// Write serializes pixels (row-major, len(pixels) == rect.Width*rect.Height)
// directly to w using the client's pixel format.
func (*RawEncoder) Write(w io.Writer, pf PixelFormat, rect Rectangle, pixels []Color, _ []byte) error {
	expected := int(rect.Width) * int(rect.Height)
	if len(pixels) != expected {
		return encodingError("RawEncoder.Write",
			"pixel count does not match rectangle dimensions", nil)
	}

	writer := NewPixelWriter(pf)
	return writer.WriteColors(w, pixels)
}
