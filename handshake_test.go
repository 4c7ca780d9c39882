// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"net"
	"testing"
)

func TestPerformHandshake_NoneSecurityWhenNoAuthenticator(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverBS := NewByteStream(server, 0, 0)
	clientBS := NewByteStream(client, 0, 0)

	done := make(chan error, 1)
	var shared bool
	go func() {
		var err error
		shared, err = performHandshake(context.Background(), serverBS, nil, &NoOpLogger{})
		done <- err
	}()

	version := make([]byte, 12)
	if err := clientBS.Read(context.Background(), version); err != nil {
		t.Fatalf("failed to read protocol version: %v", err)
	}
	if string(version) != protocolVersion {
		t.Fatalf("got version %q, want %q", version, protocolVersion)
	}
	if err := clientBS.Write(context.Background(), []byte(protocolVersion)); err != nil {
		t.Fatalf("failed to write client version: %v", err)
	}

	var secType uint32
	if err := clientBS.ReadBinary(context.Background(), &secType); err != nil {
		t.Fatalf("failed to read security type: %v", err)
	}
	if secType != securityTypeNone {
		t.Fatalf("got security type %d, want %d (None)", secType, securityTypeNone)
	}

	if err := clientBS.WriteBinary(context.Background(), uint8(1)); err != nil {
		t.Fatalf("failed to write ClientInit: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("performHandshake failed: %v", err)
	}
	if !shared {
		t.Fatal("expected shared flag to be true")
	}
}

func TestPerformHandshake_VNCAuthSuccess(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverBS := NewByteStream(server, 0, 0)
	clientBS := NewByteStream(client, 0, 0)
	auth := NewStaticAuthenticator("secret42")

	done := make(chan error, 1)
	go func() {
		_, err := performHandshake(context.Background(), serverBS, auth, &NoOpLogger{})
		done <- err
	}()

	version := make([]byte, 12)
	if err := clientBS.Read(context.Background(), version); err != nil {
		t.Fatalf("failed to read protocol version: %v", err)
	}
	if err := clientBS.Write(context.Background(), []byte(protocolVersion)); err != nil {
		t.Fatalf("failed to write client version: %v", err)
	}

	var secType uint32
	if err := clientBS.ReadBinary(context.Background(), &secType); err != nil {
		t.Fatalf("failed to read security type: %v", err)
	}
	if secType != securityTypeVNCAuth {
		t.Fatalf("got security type %d, want %d (VNCAuth)", secType, securityTypeVNCAuth)
	}

	challenge := make([]byte, VNCChallengeSize)
	if err := clientBS.Read(context.Background(), challenge); err != nil {
		t.Fatalf("failed to read challenge: %v", err)
	}

	cipher := newSecureDESCipher()
	response, err := cipher.EncryptVNCChallenge("secret42", challenge)
	if err != nil {
		t.Fatalf("failed to compute challenge response: %v", err)
	}
	if err := clientBS.Write(context.Background(), response); err != nil {
		t.Fatalf("failed to write challenge response: %v", err)
	}

	var result uint32
	if err := clientBS.ReadBinary(context.Background(), &result); err != nil {
		t.Fatalf("failed to read security result: %v", err)
	}
	if result != securityResultOK {
		t.Fatalf("got security result %d, want OK", result)
	}

	if err := clientBS.WriteBinary(context.Background(), uint8(0)); err != nil {
		t.Fatalf("failed to write ClientInit: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("performHandshake failed: %v", err)
	}
}

func TestPerformHandshake_VNCAuthFailure(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverBS := NewByteStream(server, 0, 0)
	clientBS := NewByteStream(client, 0, 0)
	auth := NewStaticAuthenticator("secret42")

	done := make(chan error, 1)
	go func() {
		_, err := performHandshake(context.Background(), serverBS, auth, &NoOpLogger{})
		done <- err
	}()

	version := make([]byte, 12)
	if err := clientBS.Read(context.Background(), version); err != nil {
		t.Fatalf("failed to read protocol version: %v", err)
	}
	if err := clientBS.Write(context.Background(), []byte(protocolVersion)); err != nil {
		t.Fatalf("failed to write client version: %v", err)
	}

	var secType uint32
	if err := clientBS.ReadBinary(context.Background(), &secType); err != nil {
		t.Fatalf("failed to read security type: %v", err)
	}

	challenge := make([]byte, VNCChallengeSize)
	if err := clientBS.Read(context.Background(), challenge); err != nil {
		t.Fatalf("failed to read challenge: %v", err)
	}

	cipher := newSecureDESCipher()
	wrongResponse, err := cipher.EncryptVNCChallenge("wrong-password", challenge)
	if err != nil {
		t.Fatalf("failed to compute challenge response: %v", err)
	}
	if err := clientBS.Write(context.Background(), wrongResponse); err != nil {
		t.Fatalf("failed to write challenge response: %v", err)
	}

	var result uint32
	if err := clientBS.ReadBinary(context.Background(), &result); err != nil {
		t.Fatalf("failed to read security result: %v", err)
	}
	if result != securityResultFailed {
		t.Fatalf("got security result %d, want Failed", result)
	}

	if err := <-done; err == nil {
		t.Fatal("expected performHandshake to return an error on auth failure")
	}
}

func TestPerformHandshake_InvalidClientVersionRejected(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverBS := NewByteStream(server, 0, 0)
	clientBS := NewByteStream(client, 0, 0)

	done := make(chan error, 1)
	go func() {
		_, err := performHandshake(context.Background(), serverBS, nil, &NoOpLogger{})
		done <- err
	}()

	version := make([]byte, 12)
	if err := clientBS.Read(context.Background(), version); err != nil {
		t.Fatalf("failed to read protocol version: %v", err)
	}
	if err := clientBS.Write(context.Background(), []byte("garbage junk\n")[:12]); err != nil {
		t.Fatalf("failed to write bogus client version: %v", err)
	}

	if err := <-done; err == nil {
		t.Fatal("expected performHandshake to reject a malformed client version string")
	}
}

func TestWriteServerInit(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverBS := NewByteStream(server, 0, 0)
	clientBS := NewByteStream(client, 0, 0)

	done := make(chan error, 1)
	go func() {
		done <- writeServerInit(context.Background(), serverBS, 1024, 768, *PixelFormat32BitRGBA, "test desktop")
	}()

	var width, height uint16
	if err := clientBS.ReadBinary(context.Background(), &width); err != nil {
		t.Fatalf("failed to read width: %v", err)
	}
	if err := clientBS.ReadBinary(context.Background(), &height); err != nil {
		t.Fatalf("failed to read height: %v", err)
	}
	if width != 1024 || height != 768 {
		t.Fatalf("got %dx%d, want 1024x768", width, height)
	}

	pfBytes := make([]byte, 16)
	if err := clientBS.Read(context.Background(), pfBytes); err != nil {
		t.Fatalf("failed to read pixel format: %v", err)
	}

	var nameLen uint32
	if err := clientBS.ReadBinary(context.Background(), &nameLen); err != nil {
		t.Fatalf("failed to read desktop name length: %v", err)
	}
	nameBytes := make([]byte, nameLen)
	if err := clientBS.Read(context.Background(), nameBytes); err != nil {
		t.Fatalf("failed to read desktop name: %v", err)
	}
	if string(nameBytes) != "test desktop" {
		t.Fatalf("got desktop name %q, want %q", nameBytes, "test desktop")
	}

	if err := <-done; err != nil {
		t.Fatalf("writeServerInit failed: %v", err)
	}
}
