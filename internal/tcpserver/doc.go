// Package tcpserver implements the TCP accept loop: for each redirected
// connection it recovers the original destination, performs the
// configured upstream handshake, and relays bytes bidirectionally until
// either side closes.
package tcpserver
