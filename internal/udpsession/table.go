package udpsession

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ashleynewson/transproxify/internal/endpoint"
	"github.com/ashleynewson/transproxify/internal/handshake"
	"github.com/ashleynewson/transproxify/internal/settings"
)

// DefaultIdleTimeout is the recommended idle timeout for UDP sessions.
const DefaultIdleTimeout = 60 * time.Second

// UdpSession is one client's path through the upstream proxy. It is
// created lazily on the first datagram from a new client endpoint and
// lives until idle eviction or an unrecoverable I/O error closes its
// Association.
type UdpSession struct {
	ClientEndpoint      endpoint.Endpoint
	OriginalDestination endpoint.Endpoint
	Association         handshake.Association

	// ReplySocket is the socket replies to ClientEndpoint are sent from,
	// its local address spoofed as OriginalDestination so the client
	// sees a reply from the address it originally targeted. Set once by
	// udpserver right after a session is created; nil until then.
	ReplySocket *net.UDPConn

	mu           sync.Mutex
	lastActivity time.Time
}

// LastActivity reports when the session was last touched.
func (s *UdpSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *UdpSession) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Close tears down the session's upstream socket, its reply socket (if
// set), and, for SOCKS5, its UDP-ASSOCIATE control connection.
func (s *UdpSession) Close() error {
	err := s.Association.Socket.Close()
	if cerr := s.Association.Close(); err == nil {
		err = cerr
	}
	if s.ReplySocket != nil {
		if cerr := s.ReplySocket.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Table holds at most one session per client endpoint, keyed by the
// client endpoint's string form.
//
// It wraps github.com/patrickmn/go-cache: each entry's TTL is the idle
// timeout, Set re-touches that TTL on every touch, and go-cache's own
// janitor (run at idleTimeout/4) invokes the OnEvicted callback that
// closes an idled session's sockets.
type Table struct {
	cache       *cache.Cache
	idleTimeout time.Duration
	mu          sync.Mutex
}

// NewTable constructs a Table with the given idle timeout.
func NewTable(idleTimeout time.Duration) *Table {
	c := cache.New(idleTimeout, idleTimeout/4)
	t := &Table{cache: c, idleTimeout: idleTimeout}
	c.OnEvicted(func(_ string, v interface{}) {
		if sess, ok := v.(*UdpSession); ok {
			_ = sess.Close()
		}
	})
	return t
}

// GetOrCreate returns the existing session for clientEndpoint if its
// originalDestination matches, evicts and recreates it if the
// destination changed, and otherwise performs the upstream handshake
// (UDP-ASSOCIATE for SOCKS5, a bare datagram socket for DIRECT) to
// create a fresh one. The second return value reports whether a new
// session was created, so the caller can do once-per-session setup
// (starting the upstream reader, opening the spoofed reply socket).
func (t *Table) GetOrCreate(ctx context.Context, clientEndpoint, originalDestination endpoint.Endpoint, s *settings.ProxySettings) (*UdpSession, bool, error) {
	key := clientEndpoint.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.cache.Get(key); ok {
		sess := v.(*UdpSession)
		if sess.OriginalDestination.Equal(originalDestination) {
			sess.touch()
			t.cache.Set(key, sess, t.idleTimeout)
			return sess, false, nil
		}
		// Destination changed under the same client endpoint: evict and
		// recreate rather than silently rerouting datagrams to the
		// wrong target.
		t.cache.Delete(key)
	}

	engine, err := handshake.For(s)
	if err != nil {
		return nil, false, err
	}
	associator, ok := engine.(handshake.UDPAssociator)
	if !ok {
		return nil, false, &settings.ConfigError{Detail: fmt.Sprintf("proxy protocol %s cannot carry udp sessions", s.ProxyProtocol())}
	}

	assoc, err := associator.Associate(ctx, originalDestination, s)
	if err != nil {
		return nil, false, err
	}

	sess := &UdpSession{
		ClientEndpoint:      clientEndpoint,
		OriginalDestination: originalDestination,
		Association:         assoc,
		lastActivity:        time.Now(),
	}
	t.cache.Set(key, sess, t.idleTimeout)
	return sess, true, nil
}

// Touch refreshes sess's idle deadline.
func (t *Table) Touch(sess *UdpSession) {
	sess.touch()
	t.mu.Lock()
	t.cache.Set(sess.ClientEndpoint.String(), sess, t.idleTimeout)
	t.mu.Unlock()
}

// Evict removes sess immediately, closing its sockets, for use when a
// reader goroutine observes an unrecoverable I/O error.
func (t *Table) Evict(sess *UdpSession) {
	key := sess.ClientEndpoint.String()
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.cache.Get(key); ok && v == interface{}(sess) {
		t.cache.Delete(key)
		return
	}
	// sess is no longer the live entry for its client (already evicted or
	// replaced by a newer session): leave the table alone, just close it.
	_ = sess.Close()
}

// Len reports the number of live sessions.
func (t *Table) Len() int {
	return t.cache.ItemCount()
}

// Close tears down every live session and discards the table. Intended
// for use during process shutdown; the table must not be used afterward.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, item := range t.cache.Items() {
		if sess, ok := item.Object.(*UdpSession); ok {
			_ = sess.Close()
		}
	}
	t.cache.Flush()
}
