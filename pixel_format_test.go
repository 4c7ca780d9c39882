// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"testing"
)

func TestPixelFormat_WriteReadRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pf   *PixelFormat
	}{
		{"32-bit RGBA", PixelFormat32BitRGBA},
		{"16-bit RGB565", PixelFormat16BitRGB565},
		{"16-bit RGB555", PixelFormat16BitRGB555},
		{"8-bit indexed (not true color)", PixelFormat8BitIndexed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := writePixelFormat(tt.pf)
			if err != nil {
				t.Fatalf("writePixelFormat failed: %v", err)
			}
			if len(raw) != 16 {
				t.Fatalf("expected 16-byte wire format, got %d bytes", len(raw))
			}

			var got PixelFormat
			if err := readPixelFormat(bytes.NewReader(raw), &got); err != nil {
				t.Fatalf("readPixelFormat failed: %v", err)
			}

			if got.BPP != tt.pf.BPP || got.Depth != tt.pf.Depth || got.BigEndian != tt.pf.BigEndian || got.TrueColor != tt.pf.TrueColor {
				t.Fatalf("round-trip mismatch: got %+v, want %+v", got, *tt.pf)
			}
			if tt.pf.TrueColor {
				if got.RedMax != tt.pf.RedMax || got.GreenMax != tt.pf.GreenMax || got.BlueMax != tt.pf.BlueMax {
					t.Fatalf("color max round-trip mismatch: got %+v, want %+v", got, *tt.pf)
				}
				if got.RedShift != tt.pf.RedShift || got.GreenShift != tt.pf.GreenShift || got.BlueShift != tt.pf.BlueShift {
					t.Fatalf("shift round-trip mismatch: got %+v, want %+v", got, *tt.pf)
				}
			}
		})
	}
}

func TestPixelFormat_Validate(t *testing.T) {
	tests := []struct {
		name        string
		pf          PixelFormat
		expectError bool
	}{
		{"valid 32-bit RGBA", *PixelFormat32BitRGBA, false},
		{"zero BPP", PixelFormat{BPP: 0, Depth: 24}, true},
		{"unsupported BPP", PixelFormat{BPP: 24, Depth: 24}, true},
		{"depth exceeds BPP", PixelFormat{BPP: 8, Depth: 16}, true},
		{"true color all-zero maxes", PixelFormat{BPP: 32, Depth: 24, TrueColor: true}, true},
		{
			"shift exceeds BPP",
			PixelFormat{BPP: 16, Depth: 16, TrueColor: true, RedMax: 31, GreenMax: 63, BlueMax: 31, RedShift: 20},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pf.Validate()
			if tt.expectError && err == nil {
				t.Fatal("expected a validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}
