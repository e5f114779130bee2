// Package udpserver runs the transparent UDP relay loop: a single
// transparent listener recovers each datagram's client and
// original-destination endpoints, routes it through a udpsession.Table
// session, and a per-session reader goroutine drains the upstream socket
// and writes replies back with a spoofed source address.
package udpserver
