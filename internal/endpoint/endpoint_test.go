package endpoint

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestParseTextualAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantIP  string
		wantErr bool
	}{
		{name: "ipv4", in: "192.0.2.1:80", wantIP: "192.0.2.1"},
		{name: "ipv6", in: "[2001:db8::1]:443", wantIP: "2001:db8::1"},
		{name: "bad port", in: "192.0.2.1:bad", wantErr: true},
		{name: "hostname not accepted", in: "example.com:80", wantErr: true},
		{name: "missing port", in: "192.0.2.1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := ParseTextualAddress(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !ep.IP.Equal(net.ParseIP(tt.wantIP)) {
				t.Fatalf("got IP %v want %v", ep.IP, tt.wantIP)
			}
		})
	}
}

func TestEndpointStringBracketsIPv6(t *testing.T) {
	ep := Endpoint{IP: net.ParseIP("2001:db8::1"), Port: 443}
	want := "[2001:db8::1]:443"
	if got := ep.String(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestEndpointStringRoundTripsIPv6(t *testing.T) {
	for _, lit := range []string{"::1", "2001:db8::1", "fe80::1"} {
		ip := net.ParseIP(lit)
		if ip == nil {
			continue
		}
		ep := Endpoint{IP: ip, Port: 1}
		parsed, err := ParseTextualAddress(ep.String())
		if err != nil {
			t.Fatalf("round trip parse %q: %v", ep.String(), err)
		}
		if !parsed.IP.Equal(ip) {
			t.Fatalf("round trip mismatch: %v != %v", parsed.IP, ip)
		}
	}
}

type fakeConn struct {
	net.Conn
	readData   []byte
	readErr    error
	writeErr   error
	written    []byte
	deadlineAt time.Time
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}
	n := copy(p, c.readData)
	c.readData = c.readData[n:]
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *fakeConn) SetDeadline(t time.Time) error {
	c.deadlineAt = t
	return nil
}

func TestReadExactShortReadIsIoError(t *testing.T) {
	c := &fakeConn{readData: []byte("ab")}
	_, err := ReadExact(c, 5, time.Time{})
	if err == nil {
		t.Fatal("expected error")
	}
	var ioErr *IoError
	if !asIoError(err, &ioErr) {
		t.Fatalf("expected *IoError, got %T: %v", err, err)
	}
}

func TestWriteAllSetsDeadline(t *testing.T) {
	c := &fakeConn{}
	dl := time.Now().Add(time.Second)
	if err := WriteAll(c, []byte("hello"), dl); err != nil {
		t.Fatal(err)
	}
	if !c.deadlineAt.Equal(dl) {
		t.Fatalf("deadline not applied: got %v want %v", c.deadlineAt, dl)
	}
	if string(c.written) != "hello" {
		t.Fatalf("got %q", c.written)
	}
}

func asIoError(err error, target **IoError) bool {
	e, ok := err.(*IoError)
	if !ok {
		return false
	}
	*target = e
	return true
}
