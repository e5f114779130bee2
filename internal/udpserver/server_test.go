package udpserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ashleynewson/transproxify/internal/endpoint"
	"github.com/ashleynewson/transproxify/internal/settings"
	"github.com/ashleynewson/transproxify/internal/testutil"
	"github.com/ashleynewson/transproxify/internal/udpsession"
)

// fakeDialReplySocket opens a plain loopback socket instead of an
// IP_FREEBIND one, since tests can't bind arbitrary addresses without
// root. The relay logic under test doesn't care what address the reply
// appears to come from, only that it reaches the client.
func fakeDialReplySocket(*net.UDPAddr) (*net.UDPConn, error) {
	return net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
}

func TestServeRelaysDatagramsThroughDirectEngine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoConn := testutil.StartEchoUDPServer(t, ctx)
	defer echoConn.Close()
	echoEp, err := endpoint.ParseTextualAddress(echoConn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}

	s, err := settings.New(settings.Direct, settings.UDP, "", 0, "", "")
	if err != nil {
		t.Fatal(err)
	}

	sessions := udpsession.NewTable(30 * time.Second)
	defer sessions.Close()

	srv := NewServer(ctx, s, sessions, false)
	srv.ResolveDestination = func([]byte) (endpoint.Endpoint, error) {
		return echoEp, nil
	}
	srv.DialReplySocket = fakeDialReplySocket

	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	go func() { _ = srv.Serve(listener) }()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	msg := []byte("hello")
	if _, err := client.WriteToUDP(msg, listener.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(msg))
	n, _, err := client.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != string(msg) {
		t.Fatalf("expected %q got %q", msg, buf[:n])
	}

	if sessions.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", sessions.Len())
	}
}

func TestServeSkipsDatagramWithUnresolvableDestination(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoConn := testutil.StartEchoUDPServer(t, ctx)
	defer echoConn.Close()
	echoEp, err := endpoint.ParseTextualAddress(echoConn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}

	s, err := settings.New(settings.Direct, settings.UDP, "", 0, "", "")
	if err != nil {
		t.Fatal(err)
	}

	sessions := udpsession.NewTable(30 * time.Second)
	defer sessions.Close()

	srv := NewServer(ctx, s, sessions, false)
	first := true
	srv.ResolveDestination = func([]byte) (endpoint.Endpoint, error) {
		if first {
			first = false
			return endpoint.Endpoint{}, &endpoint.EnvironmentError{Detail: "no original destination"}
		}
		return echoEp, nil
	}
	srv.DialReplySocket = fakeDialReplySocket

	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	go func() { _ = srv.Serve(listener) }()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if _, err := client.WriteToUDP([]byte("dropped"), listener.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatal(err)
	}
	msg := []byte("delivered")
	if _, err := client.WriteToUDP(msg, listener.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(msg))
	n, _, err := client.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != string(msg) {
		t.Fatalf("expected %q got %q", msg, buf[:n])
	}
}
