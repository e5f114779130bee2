//go:build freebsd

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

// ListenTransparentTCP listens on addr with IP_BINDANY enabled so the
// socket can accept connections redirected by IPFW fwd or PF rdr-to
// rules, plus SO_REUSEADDR. Requires root or the PRIV_NETINET_BINDANY
// privilege. Callers still need matching IPFW or PF rules to redirect
// traffic to the listener.
func ListenTransparentTCP(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: func(network, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); ctrlErr != nil {
				return
			}
			if network == "tcp6" {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_BINDANY, 1)
			} else {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_BINDANY, 1)
			}
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

// ListenTransparentUDP is unsupported on FreeBSD: IPFW has no ancillary-
// data path analogous to Linux's IP_RECVORIGDSTADDR for recovering a
// redirected datagram's original destination. Transparent UDP proxying
// is Linux-only; see DESIGN.md.
func ListenTransparentUDP(_ string) (*net.UDPConn, error) {
	return nil, &endpoint.EnvironmentError{Detail: "transparent udp proxying is only supported on linux"}
}

// DialSpoofedSource is unsupported on FreeBSD; see ListenTransparentUDP.
func DialSpoofedSource(_ *net.UDPAddr) (*net.UDPConn, error) {
	return nil, &endpoint.EnvironmentError{Detail: "transparent udp proxying is only supported on linux"}
}
