// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func TestByteStream_WriteReadRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverBS := NewByteStream(server, 0, 0)
	clientBS := NewByteStream(client, 0, 0)

	done := make(chan error, 1)
	go func() {
		done <- serverBS.Write(context.Background(), []byte("hello, rfb"))
	}()

	buf := make([]byte, len("hello, rfb"))
	if err := clientBS.Read(context.Background(), buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if string(buf) != "hello, rfb" {
		t.Fatalf("got %q, want %q", buf, "hello, rfb")
	}
}

func TestByteStream_BinaryRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverBS := NewByteStream(server, 0, 0)
	clientBS := NewByteStream(client, 0, 0)

	done := make(chan error, 1)
	go func() {
		done <- serverBS.WriteBinary(context.Background(), uint32(0xdeadbeef))
	}()

	var got uint32
	if err := clientBS.ReadBinary(context.Background(), &got); err != nil {
		t.Fatalf("ReadBinary failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteBinary failed: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("got %#x, want %#x", got, 0xdeadbeef)
	}
}

func TestByteStream_ReadCancelledContext(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	bs := NewByteStream(client, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf := make([]byte, 1)
	if err := bs.Read(ctx, buf); err == nil {
		t.Fatal("expected error from cancelled context, got nil")
	}
}

func TestByteStream_ReadTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	bs := NewByteStream(client, 5*time.Millisecond, 0)

	buf := make([]byte, 1)
	err := bs.Read(context.Background(), buf)
	if err == nil {
		t.Fatal("expected a timeout error, got nil")
	}
}

func TestByteStream_WriteUsingFlushesOnce(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverBS := NewByteStream(server, 0, 0)
	clientBS := NewByteStream(client, 0, 0)

	done := make(chan error, 1)
	go func() {
		done <- serverBS.WriteUsing(context.Background(), func(w io.Writer) error {
			if _, err := w.Write([]byte("AB")); err != nil {
				return err
			}
			_, err := w.Write([]byte("CD"))
			return err
		})
	}()

	buf := make([]byte, 4)
	if err := clientBS.Read(context.Background(), buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteUsing failed: %v", err)
	}
	if string(buf) != "ABCD" {
		t.Fatalf("got %q, want %q", buf, "ABCD")
	}
}
