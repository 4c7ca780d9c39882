// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"io"
)

// DesktopSizeEncoder produces the DesktopSize pseudo-encoding (RFC 6143,
// encoding type -223), notifying the client that the server's framebuffer
// dimensions have changed. The rectangle body is empty; the new size is
// carried entirely in the rectangle header's Width/Height fields.
type DesktopSizeEncoder struct{}

// Type returns the encoding type identifier for the DesktopSize pseudo-encoding.
func (*DesktopSizeEncoder) Type() int32 {
	return -223
}

// IsPseudo reports that DesktopSize is a pseudo-encoding.
func (*DesktopSizeEncoder) IsPseudo() bool {
	return true
}

// Write validates the new dimensions; the encoding carries no body.
func (*DesktopSizeEncoder) Write(w io.Writer, pf PixelFormat, rect Rectangle, pixels []Color, mask []byte) error {
	if rect.Width == 0 || rect.Height == 0 {
		return validationError("DesktopSizeEncoder.Write", "desktop dimensions cannot be zero", nil)
	}
	if rect.Width > 32767 || rect.Height > 32767 {
		return validationError("DesktopSizeEncoder.Write", "desktop dimensions too large", nil)
	}
	return nil
}

// desktopSizeRectangle builds the DesktopSize pseudo-encoding's rectangle
// header for a new framebuffer size.
func desktopSizeRectangle(width, height uint16) Rectangle {
	return Rectangle{
		Width:        width,
		Height:       height,
		EncodingType: (&DesktopSizeEncoder{}).Type(),
	}
}
