// Package tproxy constructs platform-specific transparent listeners: a
// TCP listener that can accept connections redirected by
// TPROXY/IPFW-fwd/PF-rdr-to rules, and, on Linux, a UDP socket that can
// both receive redirected datagrams with their original destination
// attached and send replies that spoof that destination as their
// source.
//
// Original-destination recovery itself lives in the endpoint package;
// this package is concerned only with how the listening sockets are
// built. On platforms without transparent-proxy support, both
// constructors return an *endpoint.EnvironmentError.
package tproxy
