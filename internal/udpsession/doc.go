// Package udpsession tracks the UDP client-to-upstream session table: one
// UdpSession per client endpoint, created lazily, torn down on idle
// timeout or unrecoverable I/O error.
package udpsession
