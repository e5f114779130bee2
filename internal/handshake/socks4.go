package handshake

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/ashleynewson/transproxify/internal/endpoint"
	"github.com/ashleynewson/transproxify/internal/settings"
)

// socks4Engine implements the SOCKS4 client handshake. SOCKS4 is
// IPv4-only by protocol definition: a request carries a 4-byte address
// field with no ATYP discriminator, so an IPv6 target is rejected
// rather than silently truncated.
type socks4Engine struct{}

func (socks4Engine) Connect(ctx context.Context, target endpoint.Endpoint, s *settings.ProxySettings) (net.Conn, error) {
	ip4 := target.IP.To4()
	if ip4 == nil {
		return nil, &HandshakeError{Kind: UnsupportedTarget, Detail: "SOCKS4 supports IPv4 targets only"}
	}

	d := net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", s.ProxyAddr())
	if err != nil {
		return nil, &endpoint.IoError{Detail: fmt.Sprintf("dial socks4 proxy %s", s.ProxyAddr()), Err: err}
	}

	if err := socks4Request(ctx, c, ip4, target.Port, s); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func socks4Request(ctx context.Context, c net.Conn, ip4 net.IP, port int, s *settings.ProxySettings) error {
	userID := s.Username()
	if userID == "" {
		userID = s.Password()
	}

	req := make([]byte, 0, 9+len(userID)+1)
	req = append(req, 0x04, 0x01)
	req = binary.BigEndian.AppendUint16(req, uint16(port))
	req = append(req, ip4...)
	req = append(req, []byte(userID)...)
	req = append(req, 0x00)

	if err := endpoint.WriteAllContext(ctx, c, req); err != nil {
		return err
	}

	reply, err := endpoint.ReadExactContext(ctx, c, 8)
	if err != nil {
		return err
	}

	if reply[0] != 0x00 || reply[1] != 0x5a {
		return &HandshakeError{Kind: ProxyRejected, Detail: fmt.Sprintf("reply code 0x%02x", reply[1])}
	}

	_ = c.SetDeadline(noDeadline())
	return nil
}
