package endpoint

import (
	"fmt"
	"net"
	"strconv"

	"github.com/ashleynewson/transproxify/internal/settings"
)

// Family identifies whether an Endpoint's address is IPv4 or IPv6.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

// Endpoint is a (family, address, port) tuple. It reuses net.IP rather
// than a bespoke byte array; String round-trips IPv6 addresses through
// their textual (bracketed, colon-hex) form.
type Endpoint struct {
	IP   net.IP
	Port int
}

// Family reports whether ep holds an IPv4 or IPv6 address.
func (ep Endpoint) Family() Family {
	if ep.IP.To4() != nil {
		return IPv4
	}
	return IPv6
}

// String renders the endpoint as host:port, bracketing IPv6 literals.
func (ep Endpoint) String() string {
	return net.JoinHostPort(ep.IP.String(), strconv.Itoa(ep.Port))
}

// TCPAddr converts ep to a *net.TCPAddr.
func (ep Endpoint) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: ep.IP, Port: ep.Port}
}

// UDPAddr converts ep to a *net.UDPAddr.
func (ep Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: ep.IP, Port: ep.Port}
}

// FromTCPAddr builds an Endpoint from a *net.TCPAddr.
func FromTCPAddr(a *net.TCPAddr) Endpoint {
	return Endpoint{IP: a.IP, Port: a.Port}
}

// FromUDPAddr builds an Endpoint from a *net.UDPAddr.
func FromUDPAddr(a *net.UDPAddr) Endpoint {
	return Endpoint{IP: a.IP, Port: a.Port}
}

// Equal reports whether two endpoints have the same address and port.
func (ep Endpoint) Equal(other Endpoint) bool {
	return ep.IP.Equal(other.IP) && ep.Port == other.Port
}

// ParseTextualAddress parses a "host:port" string (dotted-quad or
// colon-hex, optionally bracketed) into an Endpoint.
func ParseTextualAddress(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, &settings.ConfigError{Detail: fmt.Sprintf("malformed address %q: %v", s, err)}
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Endpoint{}, &settings.ConfigError{Detail: fmt.Sprintf("malformed address %q: not a literal IP", s)}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, &settings.ConfigError{Detail: fmt.Sprintf("malformed port in %q", s)}
	}
	return Endpoint{IP: ip, Port: port}, nil
}

// EnvironmentError reports that the platform lacks a capability transproxify
// needs (no SO_ORIGINAL_DST, no IP_RECVORIGDSTADDR, socket was not
// redirected, etc). It is fatal for the affected connection/session only.
type EnvironmentError struct {
	Detail string
}

func (e *EnvironmentError) Error() string {
	return "environment: " + e.Detail
}

// IoError reports a socket read/write/connect/accept failure: a short
// read/write, a peer close mid-frame, or a deadline expiry.
type IoError struct {
	Detail string
	Err    error
}

func (e *IoError) Error() string {
	if e.Err != nil {
		return "io: " + e.Detail + ": " + e.Err.Error()
	}
	return "io: " + e.Detail
}

func (e *IoError) Unwrap() error { return e.Err }
