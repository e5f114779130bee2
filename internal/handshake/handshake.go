package handshake

import (
	"context"
	"fmt"
	"net"

	"github.com/ashleynewson/transproxify/internal/endpoint"
	"github.com/ashleynewson/transproxify/internal/settings"
)

// ErrorKind classifies a HandshakeError.
type ErrorKind int

const (
	ProxyRejected ErrorKind = iota
	UnsupportedTarget
	NoAcceptableMethod
	AuthFailed
	MalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case ProxyRejected:
		return "ProxyRejected"
	case UnsupportedTarget:
		return "UnsupportedTarget"
	case NoAcceptableMethod:
		return "NoAcceptableMethod"
	case AuthFailed:
		return "AuthFailed"
	case MalformedResponse:
		return "MalformedResponse"
	default:
		return "Unknown"
	}
}

// HandshakeError reports that the upstream proxy refused the request or
// violated its protocol.
type HandshakeError struct {
	Kind   ErrorKind
	Detail string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake: %s: %s", e.Kind, e.Detail)
}

// Engine is implemented by each upstream proxy protocol's TCP CONNECT
// handshake.
type Engine interface {
	// Connect dials the upstream proxy (or the target directly, for
	// DIRECT) and performs whatever handshake the protocol requires so
	// that the returned connection is ready for application payload.
	Connect(ctx context.Context, target endpoint.Endpoint, s *settings.ProxySettings) (net.Conn, error)
}

// UDPAssociator is implemented additionally by engines that can carry
// UDP sessions (SOCKS5 and DIRECT).
type UDPAssociator interface {
	// Associate establishes whatever control state a UDP session needs
	// (a SOCKS5 UDP-ASSOCIATE control connection, or nothing for DIRECT)
	// and returns an Association describing how to send/receive
	// datagrams for target.
	Associate(ctx context.Context, target endpoint.Endpoint, s *settings.ProxySettings) (Association, error)
}

// Association is the result of establishing a UDP upstream path for one
// client endpoint.
type Association struct {
	// Socket is the upstream datagram socket sessions read/write on.
	Socket *net.UDPConn
	// RelayAddr is where outbound datagrams must be sent (the SOCKS5
	// relay endpoint, or the target itself for DIRECT).
	RelayAddr *net.UDPAddr
	// Control is the SOCKS5 UDP-ASSOCIATE control TCP connection, which
	// must stay open for the session's lifetime; nil for DIRECT.
	Control net.Conn
	// Frame/Unframe implement this protocol's per-datagram wrapping.
	Frame   func(target endpoint.Endpoint, payload []byte) ([]byte, error)
	Unframe func(packet []byte) (endpoint.Endpoint, []byte, error)
}

// Close tears down the association's control connection, if any. The
// caller owns Socket and closes it separately (udpsession.Table manages
// socket lifetime so eviction can close sockets without re-running
// handshake bookkeeping).
func (a Association) Close() error {
	if a.Control != nil {
		return a.Control.Close()
	}
	return nil
}

// For selects the Engine matching s.ProxyProtocol().
func For(s *settings.ProxySettings) (Engine, error) {
	switch s.ProxyProtocol() {
	case settings.Direct:
		return directEngine{}, nil
	case settings.HTTP:
		return httpEngine{}, nil
	case settings.SOCKS4:
		return socks4Engine{}, nil
	case settings.SOCKS5:
		return socks5Engine{}, nil
	default:
		return nil, &settings.ConfigError{Detail: fmt.Sprintf("unknown proxy protocol %v", s.ProxyProtocol())}
	}
}
