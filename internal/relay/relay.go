package relay

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BufferSize is the relay's copy buffer size.
const BufferSize = 16 * 1024

// halfCloser is implemented by net.Conn types that support shutting down
// only the write half of the connection (*net.TCPConn and friends).
type halfCloser interface {
	CloseWrite() error
}

// Bidirectional pumps bytes between left and right until both directions
// have reached EOF: when one direction observes EOF, the far side's
// write half is half-closed and the opposite direction keeps draining
// until it also EOFs. Any read or write error on either direction
// forces both connections closed.
func Bidirectional(ctx context.Context, left, right net.Conn) error {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			// right is the upstream socket, left is the client; the
			// upstream socket must close before the client socket.
			_ = right.Close()
			_ = left.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var g errgroup.Group
	g.Go(func() error { return pump(left, right, closeBoth) })
	g.Go(func() error { return pump(right, left, closeBoth) })

	return g.Wait()
}

// pump copies from src to dst until src EOFs, then half-closes dst's
// write side (if supported) so the opposite-direction pump can keep
// draining dst until it EOFs too. Any non-EOF error tears down both ends
// via onError, which preserves upstream-before-client close ordering.
func pump(dst, src net.Conn, onError func()) error {
	buf := make([]byte, BufferSize)
	_, err := io.CopyBuffer(dst, src, buf)
	if err != nil {
		onError()
		return err
	}

	if hc, ok := dst.(halfCloser); ok {
		_ = hc.CloseWrite()
	}
	return nil
}
