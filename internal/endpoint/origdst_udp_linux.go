//go:build linux

package endpoint

import (
	"fmt"
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RecoverOriginalUDPDestination parses the IP_ORIGDSTADDR ancillary
// message accompanying a datagram received on a transparent (IP_TRANSPARENT
// + IP_RECVORIGDSTADDR) listener.
func RecoverOriginalUDPDestination(oob []byte) (Endpoint, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return Endpoint{}, &EnvironmentError{Detail: fmt.Sprintf("parse control message: %v", err)}
	}

	for _, m := range msgs {
		switch {
		case m.Header.Level == unix.SOL_IP && m.Header.Type == unix.IP_ORIGDSTADDR:
			return decodeOrigDstAddr(m.Data)
		case m.Header.Level == unix.SOL_IPV6 && m.Header.Type == unix.IPV6_ORIGDSTADDR:
			return decodeOrigDstAddr(m.Data)
		}
	}

	return Endpoint{}, &EnvironmentError{Detail: "IP_ORIGDSTADDR ancillary data not present"}
}

func decodeOrigDstAddr(data []byte) (Endpoint, error) {
	if len(data) < 2 {
		return Endpoint{}, &EnvironmentError{Detail: "truncated IP_ORIGDSTADDR"}
	}

	// sin_family/sin6_family is in host byte order; read it through the
	// typed Family field rather than assembling it from raw bytes.
	family := (*syscall.RawSockaddrInet4)(unsafe.Pointer(&data[0])).Family

	switch family {
	case syscall.AF_INET:
		if len(data) < int(unsafe.Sizeof(syscall.RawSockaddrInet4{})) {
			return Endpoint{}, &EnvironmentError{Detail: "truncated IPv4 IP_ORIGDSTADDR"}
		}
		sa := (*syscall.RawSockaddrInet4)(unsafe.Pointer(&data[0]))
		return Endpoint{IP: net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3]), Port: ntohs(sa.Port)}, nil
	case syscall.AF_INET6:
		if len(data) < int(unsafe.Sizeof(syscall.RawSockaddrInet6{})) {
			return Endpoint{}, &EnvironmentError{Detail: "truncated IPv6 IP_ORIGDSTADDR"}
		}
		sa := (*syscall.RawSockaddrInet6)(unsafe.Pointer(&data[0]))
		ip := make(net.IP, 16)
		copy(ip, sa.Addr[:])
		return Endpoint{IP: ip, Port: ntohs(sa.Port)}, nil
	default:
		return Endpoint{}, &EnvironmentError{Detail: fmt.Sprintf("unsupported address family %d", family)}
	}
}
