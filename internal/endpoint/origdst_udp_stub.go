//go:build !linux

package endpoint

// RecoverOriginalUDPDestination always fails: IP_RECVORIGDSTADDR is a Linux
// TPROXY primitive with no equivalent plumbed here for other platforms.
func RecoverOriginalUDPDestination(_ []byte) (Endpoint, error) {
	return Endpoint{}, &EnvironmentError{Detail: "transparent UDP redirect is not supported on this platform"}
}
