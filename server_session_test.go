// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"net"
	"testing"
	"time"
)

// drive the client side of NewClientSession's embedded handshake over a
// net.Pipe, leaving clientBS positioned right after ServerInit.
func driveClientHandshake(t *testing.T, clientBS *ByteStream, password string) {
	t.Helper()
	ctx := context.Background()

	version := make([]byte, 12)
	if err := clientBS.Read(ctx, version); err != nil {
		t.Fatalf("failed to read protocol version: %v", err)
	}
	if err := clientBS.Write(ctx, []byte(protocolVersion)); err != nil {
		t.Fatalf("failed to write client protocol version: %v", err)
	}

	var secType uint32
	if err := clientBS.ReadBinary(ctx, &secType); err != nil {
		t.Fatalf("failed to read security type: %v", err)
	}

	if secType == securityTypeVNCAuth {
		challenge := make([]byte, VNCChallengeSize)
		if err := clientBS.Read(ctx, challenge); err != nil {
			t.Fatalf("failed to read challenge: %v", err)
		}
		cipher := newSecureDESCipher()
		response, err := cipher.EncryptVNCChallenge(password, challenge)
		if err != nil {
			t.Fatalf("failed to compute challenge response: %v", err)
		}
		if err := clientBS.Write(ctx, response); err != nil {
			t.Fatalf("failed to write challenge response: %v", err)
		}
		var result uint32
		if err := clientBS.ReadBinary(ctx, &result); err != nil {
			t.Fatalf("failed to read security result: %v", err)
		}
		if result != securityResultOK {
			t.Fatalf("got security result %d, want OK", result)
		}
	}

	if err := clientBS.WriteBinary(ctx, uint8(1)); err != nil {
		t.Fatalf("failed to write ClientInit: %v", err)
	}

	var width, height uint16
	if err := clientBS.ReadBinary(ctx, &width); err != nil {
		t.Fatalf("failed to read ServerInit width: %v", err)
	}
	if err := clientBS.ReadBinary(ctx, &height); err != nil {
		t.Fatalf("failed to read ServerInit height: %v", err)
	}
	pf := make([]byte, 16)
	if err := clientBS.Read(ctx, pf); err != nil {
		t.Fatalf("failed to read ServerInit pixel format: %v", err)
	}
	var nameLen uint32
	if err := clientBS.ReadBinary(ctx, &nameLen); err != nil {
		t.Fatalf("failed to read desktop name length: %v", err)
	}
	name := make([]byte, nameLen)
	if err := clientBS.Read(ctx, name); err != nil {
		t.Fatalf("failed to read desktop name: %v", err)
	}
}

func newTestSessionPair(t *testing.T, source FramebufferSource, opts ...SessionOption) (*ClientSession, *ByteStream) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	clientBS := NewByteStream(client, 0, 0)

	sessDone := make(chan *ClientSession, 1)
	errDone := make(chan error, 1)
	go func() {
		s, err := NewClientSession(context.Background(), server, source, opts...)
		if err != nil {
			errDone <- err
			sessDone <- nil
			return
		}
		errDone <- nil
		sessDone <- s
	}()

	driveClientHandshake(t, clientBS, "")

	if err := <-errDone; err != nil {
		t.Fatalf("NewClientSession failed: %v", err)
	}
	s := <-sessDone
	t.Cleanup(func() { s.Close() })

	return s, clientBS
}

func TestNewClientSession_HandshakeAndServerInit(t *testing.T) {
	source := NewSyntheticFramebufferSource(8, 6)
	s, _ := newTestSessionPair(t, source)

	if s.fbWidth != 8 || s.fbHeight != 6 {
		t.Fatalf("got session dimensions %dx%d, want 8x6", s.fbWidth, s.fbHeight)
	}
}

// writeSetEncodingsBody writes handleSetEncodings' expected wire body
// (padding, count, entries) directly, bypassing the message-type byte that
// Serve's dispatch loop would otherwise consume.
func writeSetEncodingsBody(t *testing.T, bs *ByteStream, encodings []int32) {
	t.Helper()
	ctx := context.Background()
	if err := bs.WriteBinary(ctx, uint8(0)); err != nil {
		t.Fatalf("failed to write padding: %v", err)
	}
	if err := bs.WriteBinary(ctx, uint16(len(encodings))); err != nil {
		t.Fatalf("failed to write encoding count: %v", err)
	}
	for _, e := range encodings {
		if err := bs.WriteBinary(ctx, e); err != nil {
			t.Fatalf("failed to write encoding entry: %v", err)
		}
	}
}

func TestApplyDerivedEncodingFlags(t *testing.T) {
	source := NewSyntheticFramebufferSource(8, 6)
	s, clientBS := newTestSessionPair(t, source)

	done := make(chan error, 1)
	go func() {
		done <- s.handleSetEncodings()
	}()
	writeSetEncodingsBody(t, clientBS, []int32{7, -239, -223, -25})

	// Enabling -239 makes handleSetEncodings write the current cursor
	// immediately; read it so the handler's write can complete.
	drainFramebufferUpdate(t, clientBS)

	if err := <-done; err != nil {
		t.Fatalf("handleSetEncodings failed: %v", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.tightEnabled {
		t.Error("expected tightEnabled after encoding 7")
	}
	if !s.cursorEnabled {
		t.Error("expected cursorEnabled after encoding -239")
	}
	if !s.desktopResizeEnabled {
		t.Error("expected desktopResizeEnabled after encoding -223")
	}
	if s.jpegQualityLevel != 7 {
		t.Errorf("got jpegQualityLevel %d, want 7 (32 + -25)", s.jpegQualityLevel)
	}
}

func TestApplyDerivedEncodingFlags_ResetOnRescan(t *testing.T) {
	source := NewSyntheticFramebufferSource(8, 6)
	s, clientBS := newTestSessionPair(t, source)

	done := make(chan error, 1)
	go func() { done <- s.handleSetEncodings() }()
	writeSetEncodingsBody(t, clientBS, []int32{7, -239})

	// The cursor-enabled transition should have triggered an immediate
	// cursor FramebufferUpdate; drain it before the second SetEncodings.
	drainFramebufferUpdate(t, clientBS)

	if err := <-done; err != nil {
		t.Fatalf("handleSetEncodings failed: %v", err)
	}

	done = make(chan error, 1)
	go func() { done <- s.handleSetEncodings() }()
	writeSetEncodingsBody(t, clientBS, []int32{0})
	if err := <-done; err != nil {
		t.Fatalf("second handleSetEncodings failed: %v", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tightEnabled || s.cursorEnabled {
		t.Error("expected capability flags to reset when a later SetEncodings drops them")
	}
}

// drainFramebufferUpdate reads and discards one FramebufferUpdate message's
// header and rectangle headers, enough to unblock a writer without decoding
// rectangle bodies.
func drainFramebufferUpdate(t *testing.T, bs *ByteStream) {
	t.Helper()
	ctx := context.Background()

	var msgType, padding uint8
	var numRects uint16
	if err := bs.ReadBinary(ctx, &msgType); err != nil {
		t.Fatalf("failed to read update message type: %v", err)
	}
	if err := bs.ReadBinary(ctx, &padding); err != nil {
		t.Fatalf("failed to read update padding: %v", err)
	}
	if err := bs.ReadBinary(ctx, &numRects); err != nil {
		t.Fatalf("failed to read rectangle count: %v", err)
	}

	for i := uint16(0); i < numRects; i++ {
		var x, y, w, h uint16
		var encType int32
		for _, v := range []interface{}{&x, &y, &w, &h} {
			if err := bs.ReadBinary(ctx, v); err != nil {
				t.Fatalf("failed to read rectangle header: %v", err)
			}
		}
		if err := bs.ReadBinary(ctx, &encType); err != nil {
			t.Fatalf("failed to read rectangle encoding type: %v", err)
		}

		switch encType {
		case (&CursorEncoder{}).Type():
			pixelBytes := int(w) * int(h) * 4
			maskBytes := calculateMaskDataSize(w, h)
			drainBytes(t, bs, pixelBytes+maskBytes)
		case (&DesktopSizeEncoder{}).Type():
			// no body
		case (&RawEncoder{}).Type():
			drainBytes(t, bs, int(w)*int(h)*4)
		default:
			t.Fatalf("unhandled encoding type %d in test drain", encType)
		}
	}
}

func drainBytes(t *testing.T, bs *ByteStream, n int) {
	t.Helper()
	if n <= 0 {
		return
	}
	buf := make([]byte, n)
	if err := bs.Read(context.Background(), buf); err != nil {
		t.Fatalf("failed to drain %d bytes: %v", n, err)
	}
}

func TestPushUpdate_NoRequestProducesNoUpdate(t *testing.T) {
	source := NewSyntheticFramebufferSource(4, 4)
	s, clientBS := newTestSessionPair(t, source)

	if err := s.PushUpdate(); err != nil {
		t.Fatalf("PushUpdate failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var b [1]byte
	if err := clientBS.Read(ctx, b[:]); err == nil {
		t.Fatal("expected no bytes to be written when no request is outstanding")
	}
}

func TestPushUpdate_SendsFullFramebufferAfterNonIncrementalRequest(t *testing.T) {
	source := NewSyntheticFramebufferSource(4, 4)
	s, clientBS := newTestSessionPair(t, source)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- s.handleFramebufferUpdateRequest() }()

	for _, v := range []interface{}{uint8(0), uint16(0), uint16(0), uint16(4), uint16(4)} {
		if err := clientBS.WriteBinary(ctx, v); err != nil {
			t.Fatalf("failed to write FramebufferUpdateRequest field: %v", err)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("handleFramebufferUpdateRequest failed: %v", err)
	}

	updateDone := make(chan error, 1)
	go func() { updateDone <- s.PushUpdate() }()

	var msgType, padding uint8
	var numRects uint16
	if err := clientBS.ReadBinary(ctx, &msgType); err != nil {
		t.Fatalf("failed to read update message type: %v", err)
	}
	if err := clientBS.ReadBinary(ctx, &padding); err != nil {
		t.Fatalf("failed to read update padding: %v", err)
	}
	if err := clientBS.ReadBinary(ctx, &numRects); err != nil {
		t.Fatalf("failed to read rectangle count: %v", err)
	}
	if numRects != 1 {
		t.Fatalf("got %d rectangles, want 1 (full framebuffer)", numRects)
	}

	var x, y, w, h uint16
	var encType int32
	for _, v := range []interface{}{&x, &y, &w, &h} {
		if err := clientBS.ReadBinary(ctx, v); err != nil {
			t.Fatalf("failed to read rectangle header: %v", err)
		}
	}
	if err := clientBS.ReadBinary(ctx, &encType); err != nil {
		t.Fatalf("failed to read encoding type: %v", err)
	}
	if x != 0 || y != 0 || w != 4 || h != 4 {
		t.Fatalf("got rectangle (%d,%d,%d,%d), want full framebuffer (0,0,4,4)", x, y, w, h)
	}
	if encType != (&RawEncoder{}).Type() {
		t.Fatalf("got encoding type %d, want Raw (%d)", encType, (&RawEncoder{}).Type())
	}

	drainBytes(t, clientBS, int(w)*int(h)*4)

	if err := <-updateDone; err != nil {
		t.Fatalf("PushUpdate failed: %v", err)
	}
}
