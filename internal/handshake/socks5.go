package handshake

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/ashleynewson/transproxify/internal/endpoint"
	"github.com/ashleynewson/transproxify/internal/settings"
)

// socks5Engine implements the SOCKS5 client handshake (RFC 1928):
// method negotiation, optional username/password sub-negotiation
// (RFC 1929), and the CONNECT or UDP ASSOCIATE request. Every phase's
// wire frame is built with github.com/txthinking/socks5's
// Request/Reply/Datagram types rather than hand-assembled bytes.
type socks5Engine struct{}

func (socks5Engine) Connect(ctx context.Context, target endpoint.Endpoint, s *settings.ProxySettings) (net.Conn, error) {
	d := net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", s.ProxyAddr())
	if err != nil {
		return nil, &endpoint.IoError{Detail: fmt.Sprintf("dial socks5 proxy %s", s.ProxyAddr()), Err: err}
	}

	if err := socks5Negotiate(ctx, c, s); err != nil {
		_ = c.Close()
		return nil, err
	}

	if _, err := socks5Request(ctx, c, txsocks5.CmdConnect, target); err != nil {
		_ = c.Close()
		return nil, err
	}

	_ = c.SetDeadline(noDeadline())
	return c, nil
}

// Associate performs method negotiation and sub-negotiation, then a
// CMD=UDP-ASSOCIATE request with DST=0.0.0.0:0 per RFC 1928 §7. The
// control TCP connection is kept open for the session's lifetime; its
// closure signals end-of-association.
func (socks5Engine) Associate(ctx context.Context, target endpoint.Endpoint, s *settings.ProxySettings) (Association, error) {
	d := net.Dialer{}
	control, err := d.DialContext(ctx, "tcp", s.ProxyAddr())
	if err != nil {
		return Association{}, &endpoint.IoError{Detail: fmt.Sprintf("dial socks5 proxy %s", s.ProxyAddr()), Err: err}
	}

	if err := socks5Negotiate(ctx, control, s); err != nil {
		_ = control.Close()
		return Association{}, err
	}

	relay, err := socks5Request(ctx, control, txsocks5.CmdUDP, endpoint.Endpoint{IP: net.IPv4zero, Port: 0})
	if err != nil {
		_ = control.Close()
		return Association{}, err
	}
	_ = control.SetDeadline(noDeadline())

	sock, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		_ = control.Close()
		return Association{}, &endpoint.IoError{Detail: "socks5 udp socket", Err: err}
	}

	return Association{
		Socket:    sock,
		RelayAddr: relay.UDPAddr(),
		Control:   control,
		Frame:     socks5FrameDatagram,
		Unframe:   socks5UnframeDatagram,
	}, nil
}

func socks5Negotiate(ctx context.Context, c net.Conn, s *settings.ProxySettings) error {
	methods := []byte{txsocks5.MethodNone}
	if s.HasCredentials() {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = c.SetDeadline(dl)
	} else {
		_ = c.SetDeadline(endpointDefaultDeadline())
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(c); err != nil {
		return &endpoint.IoError{Detail: "write socks5 negotiation request", Err: err}
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(c)
	if err != nil {
		return &endpoint.IoError{Detail: "read socks5 negotiation reply", Err: err}
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if !s.HasCredentials() {
			return &HandshakeError{Kind: NoAcceptableMethod, Detail: "server requires username/password but none configured"}
		}
		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(s.Username()), []byte(s.Password())).WriteTo(c); err != nil {
			return &endpoint.IoError{Detail: "write socks5 userpass request", Err: err}
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(c)
		if err != nil {
			return &endpoint.IoError{Detail: "read socks5 userpass reply", Err: err}
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return &HandshakeError{Kind: AuthFailed, Detail: "username/password rejected"}
		}
		return nil
	default:
		return &HandshakeError{Kind: NoAcceptableMethod, Detail: fmt.Sprintf("server chose method 0x%02x", neg.Method)}
	}
}

// socks5Request sends a Phase-3 request for cmd/target using
// github.com/txthinking/socks5's Request/Reply wire types and returns
// the bound address the proxy reports (the relay endpoint, for UDP
// ASSOCIATE; discarded by callers for TCP CONNECT).
func socks5Request(ctx context.Context, c net.Conn, cmd byte, target endpoint.Endpoint) (endpoint.Endpoint, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.SetDeadline(dl)
	} else {
		_ = c.SetDeadline(endpointDefaultDeadline())
	}

	atyp, addr, port := socks5AddrParts(target)
	if _, err := txsocks5.NewRequest(cmd, atyp, addr, port).WriteTo(c); err != nil {
		return endpoint.Endpoint{}, &endpoint.IoError{Detail: "write socks5 request", Err: err}
	}

	reply, err := txsocks5.NewReplyFrom(c)
	if err != nil {
		return endpoint.Endpoint{}, &endpoint.IoError{Detail: "read socks5 reply", Err: err}
	}
	if reply.Rep != txsocks5.RepSuccess {
		return endpoint.Endpoint{}, &HandshakeError{Kind: ProxyRejected, Detail: fmt.Sprintf("reply code 0x%02x", reply.Rep)}
	}

	return socks5EndpointFromAddr(reply.Atyp, reply.BndAddr, reply.BndPort)
}

// socks5AddrParts splits ep into the ATYP/address/port triple
// github.com/txthinking/socks5's Request/Reply/Datagram constructors
// take. transproxify never hands SOCKS5 a domain name target (original
// destinations recovered by endpoint are always literal IPs), so only
// IPv4 and IPv6 are produced.
func socks5AddrParts(ep endpoint.Endpoint) (atyp byte, addr []byte, port []byte) {
	port = make([]byte, 2)
	binary.BigEndian.PutUint16(port, uint16(ep.Port))

	if ip4 := ep.IP.To4(); ip4 != nil {
		return txsocks5.ATYPIPv4, ip4, port
	}
	ip16 := ep.IP.To16()
	if ip16 == nil {
		ip16 = net.IPv6zero
	}
	return txsocks5.ATYPIPv6, ip16, port
}

// socks5EndpointFromAddr is socks5AddrParts' inverse, used to decode a
// Reply's BND.ADDR/BND.PORT or a Datagram's DST.ADDR/DST.PORT.
func socks5EndpointFromAddr(atyp byte, addr, port []byte) (endpoint.Endpoint, error) {
	switch atyp {
	case txsocks5.ATYPIPv4:
		if len(addr) != net.IPv4len || len(port) != 2 {
			return endpoint.Endpoint{}, &HandshakeError{Kind: MalformedResponse, Detail: "malformed ipv4 socks5 address"}
		}
	case txsocks5.ATYPIPv6:
		if len(addr) != net.IPv6len || len(port) != 2 {
			return endpoint.Endpoint{}, &HandshakeError{Kind: MalformedResponse, Detail: "malformed ipv6 socks5 address"}
		}
	default:
		return endpoint.Endpoint{}, &HandshakeError{Kind: MalformedResponse, Detail: fmt.Sprintf("unsupported socks5 ATYP 0x%02x", atyp)}
	}

	ip := append([]byte(nil), addr...)
	return endpoint.Endpoint{IP: net.IP(ip), Port: int(binary.BigEndian.Uint16(port))}, nil
}
