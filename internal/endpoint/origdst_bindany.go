//go:build freebsd || openbsd

package endpoint

import "net"

// RecoverOriginalTCPDestination returns the original destination for a
// connection redirected by IPFW fwd / PF rdr-to: on these platforms the
// firewall preserves the pre-redirect destination as the accepted
// connection's local address, so no getsockopt is required.
func RecoverOriginalTCPDestination(c net.Conn) (Endpoint, error) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return Endpoint{}, &EnvironmentError{Detail: "not a TCP connection"}
	}
	addr, ok := tc.LocalAddr().(*net.TCPAddr)
	if !ok {
		return Endpoint{}, &EnvironmentError{Detail: "local address unavailable"}
	}
	return FromTCPAddr(addr), nil
}
