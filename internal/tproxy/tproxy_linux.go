//go:build linux

package tproxy

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = true

// ListenTransparentTCP listens on addr with IP_TRANSPARENT, SO_REUSEADDR,
// and dual-stack binding (IPV6_V6ONLY=0) enabled. A TPROXY iptables/nft
// rule must still redirect traffic to it.
func ListenTransparentTCP(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: func(network, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); ctrlErr != nil {
				return
			}
			if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1); ctrlErr != nil {
				return
			}
			if network == "tcp6" {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IPV6, unix.IPV6_V6ONLY, 0)
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

// ListenTransparentUDP opens a datagram socket bound to addr with
// IP_TRANSPARENT and IP_RECVORIGDSTADDR enabled: IP_TRANSPARENT lets the
// kernel accept datagrams addressed to whatever destination a TPROXY
// rule marked, and IP_RECVORIGDSTADDR causes recvmsg to attach that
// destination as an IP_ORIGDSTADDR ancillary message (decoded by
// endpoint.RecoverOriginalUDPDestination). Replies are sent from a
// separate per-session socket opened with DialSpoofedSource.
func ListenTransparentUDP(addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: func(network, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); ctrlErr != nil {
				return
			}
			if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1); ctrlErr != nil {
				return
			}
			if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_RECVORIGDSTADDR, 1); ctrlErr != nil {
				return
			}
			if network == "udp6" {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IPV6, unix.IPV6_V6ONLY, 0)
			}
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}}
	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tproxy udp %s: %w", addr, err)
	}
	return pc.(*net.UDPConn), nil
}

// DialSpoofedSource opens a datagram socket bound to laddr with
// IP_TRANSPARENT and IP_FREEBIND: IP_FREEBIND lets the bind succeed even
// though laddr (the client's original destination) is not an address
// configured on any local interface, and IP_TRANSPARENT lets the kernel
// send from it anyway. Datagrams written to the returned conn therefore
// appear to originate from laddr.
func DialSpoofedSource(laddr *net.UDPAddr) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: func(_, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); ctrlErr != nil {
				return
			}
			if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1); ctrlErr != nil {
				return
			}
			ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_FREEBIND, 1)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}}
	pc, err := lc.ListenPacket(context.Background(), "udp", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("dial spoofed source %s: %w", laddr, err)
	}
	return pc.(*net.UDPConn), nil
}
