//go:build !linux && !freebsd && !openbsd

package endpoint

import "net"

// RecoverOriginalTCPDestination always fails: this platform has no
// transparent-redirect primitive transproxify knows how to use.
func RecoverOriginalTCPDestination(_ net.Conn) (Endpoint, error) {
	return Endpoint{}, &EnvironmentError{Detail: "transparent redirect is not supported on this platform"}
}
