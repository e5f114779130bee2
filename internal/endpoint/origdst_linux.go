//go:build linux

package endpoint

import (
	"fmt"
	"net"
	"syscall"
	"unsafe"
)

// soOriginalDst is the SO_ORIGINAL_DST option number on Linux, shared by
// both IPv4 (queried at SOL_IP) and IPv6 (queried at SOL_IPV6) sockets.
const soOriginalDst = 80

// solIPv6 is Linux's SOL_IPV6 socket option level; ip6tables REDIRECT
// reports the pre-redirect destination here rather than at SOL_IP.
const solIPv6 = 41

// RecoverOriginalTCPDestination queries the kernel for the pre-redirect
// destination of an accepted TCP connection via getsockopt(SO_ORIGINAL_DST).
func RecoverOriginalTCPDestination(c net.Conn) (Endpoint, error) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return Endpoint{}, &EnvironmentError{Detail: "not a TCP connection"}
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return Endpoint{}, &EnvironmentError{Detail: fmt.Sprintf("syscall conn: %v", err)}
	}

	var (
		ep    Endpoint
		found bool
	)

	// The connection's local address family tells us which level the
	// kernel expects the getsockopt call at: SOL_IP for an IPv4 connection
	// (including an IPv4-mapped one on a dual-stack listener), SOL_IPV6
	// for an IPv6 one.
	level := uintptr(syscall.IPPROTO_IP)
	if laddr, ok := tc.LocalAddr().(*net.TCPAddr); ok && laddr.IP.To4() == nil {
		level = uintptr(solIPv6)
	}

	ctrlErr := rc.Control(func(fd uintptr) {
		var raw [128]byte
		sz := uint32(len(raw))
		_, _, errno := syscall.Syscall6(
			syscall.SYS_GETSOCKOPT,
			fd,
			level,
			uintptr(soOriginalDst),
			uintptr(unsafe.Pointer(&raw[0])),
			uintptr(unsafe.Pointer(&sz)),
			0,
		)
		if errno != 0 {
			return
		}

		// sin_family/sin6_family is written in host byte order, so compare
		// against the typed sa.Family field rather than the raw bytes.
		switch {
		case sz >= uint32(unsafe.Sizeof(syscall.RawSockaddrInet4{})) && (*syscall.RawSockaddrInet4)(unsafe.Pointer(&raw[0])).Family == syscall.AF_INET:
			sa := (*syscall.RawSockaddrInet4)(unsafe.Pointer(&raw[0]))
			ep = Endpoint{IP: net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3]), Port: ntohs(sa.Port)}
			found = true
		case sz >= uint32(unsafe.Sizeof(syscall.RawSockaddrInet6{})) && (*syscall.RawSockaddrInet6)(unsafe.Pointer(&raw[0])).Family == syscall.AF_INET6:
			sa := (*syscall.RawSockaddrInet6)(unsafe.Pointer(&raw[0]))
			ip := make(net.IP, 16)
			copy(ip, sa.Addr[:])
			ep = Endpoint{IP: ip, Port: ntohs(sa.Port)}
			found = true
		}
	})
	if ctrlErr != nil {
		return Endpoint{}, &EnvironmentError{Detail: fmt.Sprintf("control: %v", ctrlErr)}
	}
	if !found {
		return Endpoint{}, &EnvironmentError{Detail: "SO_ORIGINAL_DST unavailable: connection was not redirected"}
	}
	return ep, nil
}

func ntohs(port uint16) int {
	return int(port>>8)&0xff | (int(port&0xff) << 8)
}
