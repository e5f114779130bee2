//go:build !linux && !freebsd && !openbsd

package tproxy

import (
	"net"

	"github.com/ashleynewson/transproxify/internal/endpoint"
)

// IsSupported is false on platforms with no transparent-proxy mechanism
// transproxify knows how to drive.
const IsSupported = false

func ListenTransparentTCP(_ string) (net.Listener, error) {
	return nil, &endpoint.EnvironmentError{Detail: "transparent proxy is only supported on linux, freebsd, and openbsd"}
}

func ListenTransparentUDP(_ string) (*net.UDPConn, error) {
	return nil, &endpoint.EnvironmentError{Detail: "transparent udp proxying is only supported on linux"}
}

func DialSpoofedSource(_ *net.UDPAddr) (*net.UDPConn, error) {
	return nil, &endpoint.EnvironmentError{Detail: "transparent udp proxying is only supported on linux"}
}
