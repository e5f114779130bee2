package relay

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func TestBidirectionalByteTransparent(t *testing.T) {
	aLeft, aRight := net.Pipe()
	bLeft, bRight := net.Pipe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Bidirectional(ctx, pipeConn{aRight}, pipeConn{bLeft})
	}()

	go func() {
		_, _ = aLeft.Write([]byte("hello"))
	}()

	buf := make([]byte, 5)
	if _, err := io.ReadFull(bRight, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}

	go func() {
		_, _ = bRight.Write([]byte("world"))
		_ = bRight.Close()
	}()

	buf2 := make([]byte, 5)
	if _, err := io.ReadFull(aLeft, buf2); err != nil {
		t.Fatal(err)
	}
	if string(buf2) != "world" {
		t.Fatalf("got %q", buf2)
	}

	// net.Pipe has no half-close, so the client end is closed only once
	// the reply has been read; that EOF ends the remaining direction.
	_ = aLeft.Close()
	<-done
}

// pipeConn wraps net.Pipe's net.Conn, which has no CloseWrite, exercising
// the path where an EOF in one direction is not propagated as a
// half-close: both ends are closed only after both directions finish.
type pipeConn struct {
	net.Conn
}
