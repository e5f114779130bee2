package handshake

import (
	"context"
	"fmt"
	"net"

	"github.com/ashleynewson/transproxify/internal/endpoint"
	"github.com/ashleynewson/transproxify/internal/settings"
)

// directEngine performs no handshake: it dials target directly, without
// going through any upstream proxy.
type directEngine struct{}

func (directEngine) Connect(ctx context.Context, target endpoint.Endpoint, _ *settings.ProxySettings) (net.Conn, error) {
	d := net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return nil, &endpoint.IoError{Detail: fmt.Sprintf("direct dial %s", target), Err: err}
	}
	return c, nil
}

// Associate returns an unconnected datagram socket and a Frame/Unframe
// pair that passes payloads through unchanged; each outbound packet is
// sent to target directly, with no relay or control channel involved.
func (directEngine) Associate(_ context.Context, target endpoint.Endpoint, _ *settings.ProxySettings) (Association, error) {
	sock, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return Association{}, &endpoint.IoError{Detail: "direct udp socket", Err: err}
	}

	return Association{
		Socket:    sock,
		RelayAddr: target.UDPAddr(),
		Frame: func(_ endpoint.Endpoint, payload []byte) ([]byte, error) {
			return payload, nil
		},
		Unframe: func(packet []byte) (endpoint.Endpoint, []byte, error) {
			return target, packet, nil
		},
	}, nil
}
