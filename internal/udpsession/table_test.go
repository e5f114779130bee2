package udpsession

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ashleynewson/transproxify/internal/endpoint"
	"github.com/ashleynewson/transproxify/internal/settings"
)

func mustDirectSettings(t *testing.T, proxied settings.ProxiedProtocol) *settings.ProxySettings {
	t.Helper()
	s, err := settings.New(settings.Direct, proxied, "", 0, "", "")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestGetOrCreateReturnsSameSessionForSameDestination(t *testing.T) {
	table := NewTable(time.Minute)
	s := mustDirectSettings(t, settings.UDP)
	client := endpoint.Endpoint{IP: net.ParseIP("192.0.2.1"), Port: 54321}
	dest := endpoint.Endpoint{IP: net.ParseIP("8.8.8.8"), Port: 53}

	ctx := context.Background()
	first, isNew, err := table.GetOrCreate(ctx, client, dest, s)
	if err != nil {
		t.Fatal(err)
	}
	if !isNew {
		t.Fatal("expected first GetOrCreate to report a new session")
	}
	second, isNew, err := table.GetOrCreate(ctx, client, dest, s)
	if err != nil {
		t.Fatal(err)
	}
	if isNew {
		t.Fatal("expected second GetOrCreate to reuse the session")
	}
	if first != second {
		t.Fatal("expected GetOrCreate to return the existing session")
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", table.Len())
	}
}

func TestGetOrCreateRecreatesOnDestinationChange(t *testing.T) {
	table := NewTable(time.Minute)
	s := mustDirectSettings(t, settings.UDP)
	client := endpoint.Endpoint{IP: net.ParseIP("192.0.2.1"), Port: 54321}

	ctx := context.Background()
	first, _, err := table.GetOrCreate(ctx, client, endpoint.Endpoint{IP: net.ParseIP("8.8.8.8"), Port: 53}, s)
	if err != nil {
		t.Fatal(err)
	}

	second, isNew, err := table.GetOrCreate(ctx, client, endpoint.Endpoint{IP: net.ParseIP("1.1.1.1"), Port: 53}, s)
	if err != nil {
		t.Fatal(err)
	}
	if !isNew {
		t.Fatal("expected a destination change to report a new session")
	}
	if first == second {
		t.Fatal("expected a new session after destination change")
	}
	if table.Len() != 1 {
		t.Fatalf("expected old session evicted, got %d sessions", table.Len())
	}
}

func TestTouchExtendsLastActivity(t *testing.T) {
	table := NewTable(time.Minute)
	s := mustDirectSettings(t, settings.UDP)
	client := endpoint.Endpoint{IP: net.ParseIP("192.0.2.1"), Port: 54321}
	dest := endpoint.Endpoint{IP: net.ParseIP("8.8.8.8"), Port: 53}

	sess, _, err := table.GetOrCreate(context.Background(), client, dest, s)
	if err != nil {
		t.Fatal(err)
	}
	before := sess.LastActivity()
	time.Sleep(5 * time.Millisecond)
	table.Touch(sess)
	if !sess.LastActivity().After(before) {
		t.Fatal("expected touch to advance lastActivity")
	}
}

func TestEvictClosesSession(t *testing.T) {
	table := NewTable(time.Minute)
	s := mustDirectSettings(t, settings.UDP)
	client := endpoint.Endpoint{IP: net.ParseIP("192.0.2.1"), Port: 54321}
	dest := endpoint.Endpoint{IP: net.ParseIP("8.8.8.8"), Port: 53}

	sess, _, err := table.GetOrCreate(context.Background(), client, dest, s)
	if err != nil {
		t.Fatal(err)
	}
	table.Evict(sess)
	if table.Len() != 0 {
		t.Fatalf("expected session evicted, got %d", table.Len())
	}
	if _, err := sess.Association.Socket.WriteTo([]byte("x"), sess.Association.RelayAddr); err == nil {
		t.Fatal("expected write to closed socket to fail")
	}
}

func TestIdleEvictionClosesSocket(t *testing.T) {
	table := NewTable(20 * time.Millisecond)
	s := mustDirectSettings(t, settings.UDP)
	client := endpoint.Endpoint{IP: net.ParseIP("192.0.2.1"), Port: 54321}
	dest := endpoint.Endpoint{IP: net.ParseIP("8.8.8.8"), Port: 53}

	sess, _, err := table.GetOrCreate(context.Background(), client, dest, s)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := sess.Association.Socket.WriteTo([]byte("x"), sess.Association.RelayAddr); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected idle session's socket to be closed by eviction")
}
