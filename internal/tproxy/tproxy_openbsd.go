//go:build openbsd

package tproxy

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ashleynewson/transproxify/internal/endpoint"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = true

// ListenTransparentTCP listens on addr with SO_BINDANY enabled so the
// socket can accept connections redirected by PF rdr-to rules, plus
// SO_REUSEADDR. Requires root privileges. Callers still need matching
// PF rules, plus outgoing divert-reply rules for return traffic.
func ListenTransparentTCP(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: func(_, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); ctrlErr != nil {
				return
			}
			ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BINDANY, 1)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tproxy tcp %s: %w", addr, err)
	}
	return ln, nil
}

// ListenTransparentUDP is unsupported on OpenBSD: PF has no ancillary-
// data path analogous to Linux's IP_RECVORIGDSTADDR for recovering a
// redirected datagram's original destination. Transparent UDP proxying
// is Linux-only; see DESIGN.md.
func ListenTransparentUDP(_ string) (*net.UDPConn, error) {
	return nil, &endpoint.EnvironmentError{Detail: "transparent udp proxying is only supported on linux"}
}

// DialSpoofedSource is unsupported on OpenBSD; see ListenTransparentUDP.
func DialSpoofedSource(_ *net.UDPAddr) (*net.UDPConn, error) {
	return nil, &endpoint.EnvironmentError{Detail: "transparent udp proxying is only supported on linux"}
}
