// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"io"
)

// Encoder defines the interface for server-side VNC framebuffer encoding
// methods. Where the teacher's Encoding interface decoded a server's wire
// bytes into a typed value, Encoder runs the opposite direction: it takes a
// Rectangle of Color data sampled from the local Framebuffer and writes the
// encoded rectangle body to a client connection.
type Encoder interface {
	// Type returns the RFB encoding type identifier (spec §4.5).
	Type() int32

	// Write encodes pixels covering rect and writes the rectangle body
	// (everything after the 12-byte rectangle header) to w, using pf as
	// the client's negotiated pixel format. mask carries the cursor alpha
	// mask for Cursor pseudo-encoding rectangles and is nil otherwise.
	Write(w io.Writer, pf PixelFormat, rect Rectangle, pixels []Color, mask []byte) error
}

// PseudoEncoder defines the interface for server-side VNC pseudo-encodings.
// Pseudo-encodings carry metadata (cursor shape, desktop resize) rather than
// framebuffer pixel data, and their Rectangle header fields are repurposed
// per spec §4.6/§4.7.
type PseudoEncoder interface {
	Type() int32
	IsPseudo() bool
}
