// Package handshake implements the upstream-proxy protocol state
// machines: HTTP CONNECT, SOCKS4, SOCKS5 (TCP CONNECT and UDP ASSOCIATE),
// and DIRECT passthrough.
//
// Each engine exposes the same shape: establish a connection to the
// upstream proxy (or the target, for DIRECT), perform whatever handshake
// the protocol requires, and return a connection ready to carry
// application payload.
package handshake
