package tcpserver

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/ashleynewson/transproxify/internal/endpoint"
	"github.com/ashleynewson/transproxify/internal/handshake"
	"github.com/ashleynewson/transproxify/internal/relay"
	"github.com/ashleynewson/transproxify/internal/settings"
)

// Server accepts redirected TCP connections, recovers each one's
// original destination, runs the configured upstream handshake, and
// hands off to the relay: ACCEPTED → HANDSHAKING → RELAYING → CLOSED.
type Server struct {
	ctx      context.Context
	Settings *settings.ProxySettings
	Verbose  bool

	// ResolveDestination recovers the pre-redirect destination of an
	// accepted connection. Defaults to
	// endpoint.RecoverOriginalTCPDestination; overridable in tests,
	// which can't set up a real TPROXY redirect.
	ResolveDestination func(net.Conn) (endpoint.Endpoint, error)
}

// NewServer constructs a Server whose accepted connections are children
// of ctx: canceling ctx does not stop Serve's accept loop by itself
// (closing the listener does that), but it does cancel any in-flight
// handshake or relay.
func NewServer(ctx context.Context, s *settings.ProxySettings, verbose bool) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Server{ctx: ctx, Settings: s, Verbose: verbose, ResolveDestination: endpoint.RecoverOriginalTCPDestination}
}

// Serve accepts connections from ln until it returns an error (including
// net.ErrClosed on listener shutdown, which Serve propagates for the
// caller to treat as a clean stop).
func (s *Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("tcpserver: accept: %w", err)
		}
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	defer c.Close()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	resolve := s.ResolveDestination
	if resolve == nil {
		resolve = endpoint.RecoverOriginalTCPDestination
	}
	dst, err := resolve(c)
	if err != nil {
		s.logf("connection from %s: %v", c.RemoteAddr(), err)
		return
	}

	engine, err := handshake.For(s.Settings)
	if err != nil {
		s.logf("%s -> %s: %v", c.RemoteAddr(), dst, err)
		return
	}

	hctx, hcancel := context.WithTimeout(ctx, endpoint.DefaultHandshakeTimeout)
	up, err := engine.Connect(hctx, dst, s.Settings)
	hcancel()
	if err != nil {
		s.logf("%s -> %s: handshake: %v", c.RemoteAddr(), dst, err)
		return
	}
	defer up.Close()

	if err := relay.Bidirectional(ctx, c, up); err != nil {
		s.logf("%s -> %s: relay: %v", c.RemoteAddr(), dst, err)
	}
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Verbose {
		log.Printf("tcpserver: "+format, args...)
	}
}
