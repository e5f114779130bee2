// Package endpoint provides the socket-address plumbing shared by the TCP
// and UDP server loops: parsing and formatting of IPv4/IPv6 endpoints,
// recovery of a redirected connection's or datagram's original
// destination, and deadline-aware fixed-length frame I/O.
package endpoint
