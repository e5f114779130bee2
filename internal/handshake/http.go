package handshake

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"

	"github.com/ashleynewson/transproxify/internal/endpoint"
	"github.com/ashleynewson/transproxify/internal/settings"
)

// httpEngine implements the HTTP CONNECT method (RFC 9110 §9.3.6): it
// asks the proxy to establish a raw TCP tunnel to target and relays
// payload through it once the proxy answers 2xx. The request line is
// hand-assembled rather than built with net/http's Request.Write, which
// would add headers (User-Agent, etc.) most proxies don't expect on a
// CONNECT request.
type httpEngine struct{}

func (httpEngine) Connect(ctx context.Context, target endpoint.Endpoint, s *settings.ProxySettings) (net.Conn, error) {
	d := net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", s.ProxyAddr())
	if err != nil {
		return nil, &endpoint.IoError{Detail: fmt.Sprintf("dial http proxy %s", s.ProxyAddr()), Err: err}
	}

	if err := httpConnectRequest(ctx, c, target, s); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func httpConnectRequest(ctx context.Context, c net.Conn, target endpoint.Endpoint, s *settings.ProxySettings) error {
	host := target.String()

	req := "CONNECT " + host + " HTTP/1.1\r\nHost: " + host + "\r\n"
	if s.HasCredentials() {
		cred := base64.StdEncoding.EncodeToString([]byte(s.Username() + ":" + s.Password()))
		req += "Proxy-Authorization: Basic " + cred + "\r\n"
	}
	req += "\r\n"

	if err := endpoint.WriteAllContext(ctx, c, []byte(req)); err != nil {
		return err
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = c.SetReadDeadline(dl)
	} else {
		_ = c.SetReadDeadline(endpointDefaultDeadline())
	}

	br := bufio.NewReader(c)
	status, err := br.ReadString('\n')
	if err != nil {
		return &endpoint.IoError{Detail: "read http connect status line", Err: err}
	}

	if !httpStatusLineOK(status) {
		return &HandshakeError{Kind: ProxyRejected, Detail: trimCRLF(status)}
	}

	// Drain headers up to the blank line.
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return &endpoint.IoError{Detail: "read http connect headers", Err: err}
		}
		if trimCRLF(line) == "" {
			break
		}
	}

	_ = c.SetDeadline(noDeadline())
	return nil
}
