package udpserver

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/ashleynewson/transproxify/internal/endpoint"
	"github.com/ashleynewson/transproxify/internal/settings"
	"github.com/ashleynewson/transproxify/internal/tproxy"
	"github.com/ashleynewson/transproxify/internal/udpsession"
)

// maxDatagramSize is large enough for any UDP payload (the IPv4/IPv6
// theoretical maximum); oversized reads are simply truncated by the
// kernel rather than erroring.
const maxDatagramSize = 65535

// oobSize comfortably fits a cmsghdr plus an IP_ORIGDSTADDR sockaddr_in6,
// the largest ancillary message RecoverOriginalUDPDestination decodes.
const oobSize = 512

// Server runs the UDP transparent-listener loop: one loop goroutine
// reads redirected datagrams and routes them through udpsession.Table,
// and one reader goroutine per active session drains that session's
// upstream socket and relays replies back with a spoofed source
// address.
type Server struct {
	ctx      context.Context
	Settings *settings.ProxySettings
	Sessions *udpsession.Table
	Verbose  bool

	// ResolveDestination recovers a datagram's original destination from
	// the ancillary data returned alongside it. Defaults to
	// endpoint.RecoverOriginalUDPDestination; overridable in tests, which
	// can't produce real IP_ORIGDSTADDR ancillary data without a kernel
	// TPROXY redirect.
	ResolveDestination func(oob []byte) (endpoint.Endpoint, error)

	// DialReplySocket opens the spoofed-source socket a new session
	// replies through. Defaults to tproxy.DialSpoofedSource; overridable
	// in tests, which can't bind IP_FREEBIND sockets without root.
	DialReplySocket func(*net.UDPAddr) (*net.UDPConn, error)
}

// NewServer constructs a Server. Sessions created by it are torn down
// when ctx is canceled only insofar as callers also call
// Sessions.Close(); Serve itself returns when conn is closed.
func NewServer(ctx context.Context, s *settings.ProxySettings, sessions *udpsession.Table, verbose bool) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Server{
		ctx:                ctx,
		Settings:           s,
		Sessions:           sessions,
		Verbose:            verbose,
		ResolveDestination: endpoint.RecoverOriginalUDPDestination,
		DialReplySocket:    tproxy.DialSpoofedSource,
	}
}

// Serve reads datagrams from conn (opened with tproxy.ListenTransparentUDP)
// until a read error, which it returns.
func (s *Server) Serve(conn *net.UDPConn) error {
	buf := make([]byte, maxDatagramSize)
	oob := make([]byte, oobSize)
	for {
		n, oobn, _, clientAddr, err := conn.ReadMsgUDP(buf, oob)
		if err != nil {
			return fmt.Errorf("udpserver: read: %w", err)
		}

		resolve := s.ResolveDestination
		if resolve == nil {
			resolve = endpoint.RecoverOriginalUDPDestination
		}
		dst, err := resolve(oob[:oobn])
		if err != nil {
			s.logf("datagram from %s: %v", clientAddr, err)
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		s.forward(endpoint.FromUDPAddr(clientAddr), dst, payload)
	}
}

// forward looks up or creates the session for one datagram, frames the
// payload for the configured upstream protocol, and sends it on. It's
// always called from Serve's single loop goroutine, so it's the only
// place sessions are created or touched; drainUpstream goroutines only
// evict their own session.
func (s *Server) forward(clientEp, dst endpoint.Endpoint, payload []byte) {
	sess, isNew, err := s.Sessions.GetOrCreate(s.ctx, clientEp, dst, s.Settings)
	if err != nil {
		s.logf("%s -> %s: %v", clientEp, dst, err)
		return
	}

	if isNew {
		dial := s.DialReplySocket
		if dial == nil {
			dial = tproxy.DialSpoofedSource
		}
		replySock, err := dial(dst.UDPAddr())
		if err != nil {
			s.logf("%s -> %s: spoofed reply socket: %v", clientEp, dst, err)
			s.Sessions.Evict(sess)
			return
		}
		sess.ReplySocket = replySock
		go s.drainUpstream(sess)
	}

	frame, err := sess.Association.Frame(dst, payload)
	if err != nil {
		s.logf("%s -> %s: frame: %v", clientEp, dst, err)
		return
	}
	if _, err := sess.Association.Socket.WriteToUDP(frame, sess.Association.RelayAddr); err != nil {
		s.logf("%s -> %s: write upstream: %v", clientEp, dst, err)
		s.Sessions.Evict(sess)
		return
	}

	s.Sessions.Touch(sess)
}

// drainUpstream unframes replies arriving on a session's upstream
// socket and relays them back to the client from the spoofed-source
// reply socket. It runs for the life of one session, stopping when the
// session's upstream socket is closed (by idle eviction or an I/O error
// here).
func (s *Server) drainUpstream(sess *udpsession.UdpSession) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := sess.Association.Socket.ReadFromUDP(buf)
		if err != nil {
			s.Sessions.Evict(sess)
			return
		}

		_, payload, err := sess.Association.Unframe(buf[:n])
		if err != nil {
			s.logf("session %s: %v", sess.ClientEndpoint, err)
			continue
		}

		if _, err := sess.ReplySocket.WriteToUDP(payload, sess.ClientEndpoint.UDPAddr()); err != nil {
			s.logf("session %s: spoofed reply: %v", sess.ClientEndpoint, err)
		}
	}
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Verbose {
		log.Printf("udpserver: "+format, args...)
	}
}
