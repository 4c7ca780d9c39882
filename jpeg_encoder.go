// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
)

// JpegEncoder compresses a slab of true-color pixels to JPEG for Tight
// encoding (spec §4.5). It is an interface seam rather than a single
// implementation so a hardware-accelerated encoder (e.g. VA-API) can stand
// in for SoftwareJpeg without touching TightEncoder, per spec §1's exclusion
// of hardware JPEG internals from this package's scope.
type JpegEncoder interface {
	// Encode compresses a width*height slab of row-major pixels at the
	// given quality (0-100) and returns the JPEG byte stream.
	Encode(pixels []Color, width, height int, quality int) ([]byte, error)

	// Release frees any buffers the encoder retained from the last
	// Encode call. Grounded on original_source/RfbEncoder.cpp's
	// release(), called once per rectangle to bound peak memory the way
	// the original bounds its QByteArray retention (spec §2.4).
	Release()
}

// SoftwareJpeg is the default JpegEncoder, backed by the standard library's
// image/jpeg encoder. It is the only JPEG implementation in this package;
// no example repo in the corpus imports a third-party JPEG encoder, and
// image/jpeg already implements the baseline JFIF encoder the Tight
// protocol extension expects.
type SoftwareJpeg struct {
	buf bytes.Buffer
}

// NewSoftwareJpeg creates a SoftwareJpeg encoder.
func NewSoftwareJpeg() *SoftwareJpeg {
	return &SoftwareJpeg{}
}

// Encode renders pixels into an image.RGBA and compresses it with
// image/jpeg at the requested quality.
func (s *SoftwareJpeg) Encode(pixels []Color, width, height int, quality int) ([]byte, error) {
	if len(pixels) != width*height {
		return nil, encodingError("SoftwareJpeg.Encode", "pixel count does not match slab dimensions", nil)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := pixels[y*width+x]
			img.Set(x, y, color.RGBA64{R: c.R, G: c.G, B: c.B, A: 0xFFFF})
		}
	}

	s.buf.Reset()
	if err := jpeg.Encode(&s.buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, encodingError("SoftwareJpeg.Encode", "failed to encode JPEG slab", err)
	}

	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	return out, nil
}

// Release frees the encoder's reusable scratch buffer.
func (s *SoftwareJpeg) Release() {
	s.buf.Reset()
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
