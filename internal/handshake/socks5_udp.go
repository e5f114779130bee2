package handshake

import (
	txsocks5 "github.com/txthinking/socks5"

	"github.com/ashleynewson/transproxify/internal/endpoint"
)

// socks5FrameDatagram wraps payload for target in the SOCKS5 UDP relay
// header from RFC 1928 §7 (RSV, FRAG=0x00, ATYP, DST.ADDR, DST.PORT,
// then payload) using github.com/txthinking/socks5's Datagram type.
// Fragmentation is never produced.
func socks5FrameDatagram(target endpoint.Endpoint, payload []byte) ([]byte, error) {
	atyp, addr, port := socks5AddrParts(target)
	return txsocks5.NewDatagram(atyp, addr, port, payload).Bytes(), nil
}

// socks5UnframeDatagram parses the SOCKS5 UDP relay header, dropping
// fragmented datagrams (FRAG != 0) per RFC 1928 §7.
func socks5UnframeDatagram(packet []byte) (endpoint.Endpoint, []byte, error) {
	datagram, err := txsocks5.NewDatagramFromBytes(packet)
	if err != nil {
		return endpoint.Endpoint{}, nil, &endpoint.IoError{Detail: "parse socks5 udp datagram", Err: err}
	}
	if datagram.Frag != 0x00 {
		return endpoint.Endpoint{}, nil, &HandshakeError{Kind: MalformedResponse, Detail: "fragmented socks5 udp datagram dropped"}
	}

	dest, err := socks5EndpointFromAddr(datagram.Atyp, datagram.DstAddr, datagram.DstPort)
	if err != nil {
		return endpoint.Endpoint{}, nil, err
	}
	return dest, datagram.Data, nil
}
