// An in-process Redis server for tests, built on redcon. The far tier is a Redis client, and its
// tests should not need a real Redis on the machine; this server speaks just enough of the
// protocol for those tests — GET, SET with EX/PX, DEL, SCAN with MATCH, PING, FLUSHALL. Expiry is
// lazy: a key past its deadline reads as gone.
//
// This is test infrastructure, not a Redis: SCAN always answers in a single page, and unsupported
// commands (including HELLO, which go-redis probes with before falling back to RESP2) get an
// error reply.

package redistest

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/match"
	"github.com/tidwall/redcon"
)

// entry is one stored value with an optional expiry deadline.
type entry struct {
	value     string
	expiresAt time.Time // Zero means no expiry.
}

// live reports whether the entry exists as far as clients are concerned.
func (e entry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// Server is an in-memory Redis-protocol server bound to a loopback ephemeral port.
type Server struct {
	listener net.Listener
	data     map[string]entry
	mux      sync.Mutex
}

// NewServer starts a server and registers its shutdown with the test's cleanup.
func NewServer(t *testing.T) *Server {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &Server{listener: listener, data: make(map[string]entry)}
	go func() {
		// Serve exits with an error once the listener closes during cleanup; that's expected.
		_ = redcon.Serve(listener, server.handle,
			/*accept*/ func(conn redcon.Conn) bool { return true },
			/*closed*/ nil)
	}()
	t.Cleanup(func() { _ = listener.Close() })
	return server
}

// Addr returns the host:port clients should dial.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Seed stores a raw value directly, bypassing the protocol. Tests use it to plant payloads the
// client side would refuse to write, e.g. deliberately corrupt ones. A non-positive ttl means no
// expiry.
func (s *Server) Seed(key, value string, ttl time.Duration) {
	s.mux.Lock()
	defer s.mux.Unlock()

	stored := entry{value: value}
	if ttl > 0 {
		stored.expiresAt = time.Now().Add(ttl)
	}
	s.data[key] = stored
}

// Keys returns the live keys currently stored, for assertions.
func (s *Server) Keys() []string {
	s.mux.Lock()
	defer s.mux.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(s.data))
	for key, stored := range s.data {
		if stored.live(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *Server) handle(conn redcon.Conn, cmd redcon.Command) {
	args := make([]string, len(cmd.Args))
	for i := range cmd.Args {
		args[i] = string(cmd.Args[i])
	}

	switch strings.ToUpper(args[0]) {
	case "PING":
		conn.WriteString("PONG")
	case "QUIT":
		conn.WriteString("OK")
		_ = conn.Close()
	case "SET":
		s.handleSet(conn, args[1:])
	case "GET":
		s.handleGet(conn, args[1:])
	case "DEL":
		s.handleDel(conn, args[1:])
	case "SCAN":
		s.handleScan(conn, args[1:])
	case "FLUSHALL":
		s.mux.Lock()
		s.data = make(map[string]entry)
		s.mux.Unlock()
		conn.WriteString("OK")
	default:
		conn.WriteError("ERR unknown command '" + args[0] + "'")
	}
}

func (s *Server) handleSet(conn redcon.Conn, args []string) {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'set' command")
		return
	}
	stored := entry{value: args[1]}

	// The only SET options the go-redis client emits here are the expiry ones.
	for i := 2; i < len(args); i += 2 {
		if i+1 >= len(args) {
			conn.WriteError("ERR syntax error")
			return
		}
		amount, err := strconv.ParseInt(args[i+1], 10, 64)
		if err != nil {
			conn.WriteError("ERR value is not an integer or out of range")
			return
		}
		switch strings.ToUpper(args[i]) {
		case "EX":
			stored.expiresAt = time.Now().Add(time.Duration(amount) * time.Second)
		case "PX":
			stored.expiresAt = time.Now().Add(time.Duration(amount) * time.Millisecond)
		default:
			conn.WriteError("ERR syntax error")
			return
		}
	}

	s.mux.Lock()
	s.data[args[0]] = stored
	s.mux.Unlock()
	conn.WriteString("OK")
}

func (s *Server) handleGet(conn redcon.Conn, args []string) {
	if len(args) != 1 {
		conn.WriteError("ERR wrong number of arguments for 'get' command")
		return
	}

	s.mux.Lock()
	stored, found := s.data[args[0]]
	if found && !stored.live(time.Now()) {
		delete(s.data, args[0])
		found = false
	}
	s.mux.Unlock()

	if !found {
		conn.WriteNull()
		return
	}
	conn.WriteBulkString(stored.value)
}

func (s *Server) handleDel(conn redcon.Conn, args []string) {
	if len(args) < 1 {
		conn.WriteError("ERR wrong number of arguments for 'del' command")
		return
	}

	s.mux.Lock()
	now := time.Now()
	deleted := 0
	for _, key := range args {
		if stored, found := s.data[key]; found {
			if stored.live(now) {
				deleted++
			}
			delete(s.data, key)
		}
	}
	s.mux.Unlock()
	conn.WriteInt(deleted)
}

func (s *Server) handleScan(conn redcon.Conn, args []string) {
	if len(args) < 1 {
		conn.WriteError("ERR wrong number of arguments for 'scan' command")
		return
	}
	pattern := "*"
	for i := 1; i < len(args); i += 2 {
		if i+1 >= len(args) {
			conn.WriteError("ERR syntax error")
			return
		}
		switch strings.ToUpper(args[i]) {
		case "MATCH":
			pattern = args[i+1]
		case "COUNT":
			// The page-size hint is irrelevant; everything fits in one page.
		default:
			conn.WriteError("ERR syntax error")
			return
		}
	}

	s.mux.Lock()
	now := time.Now()
	matching := make([]string, 0, len(s.data))
	for key, stored := range s.data {
		if stored.live(now) && match.Match(key, pattern) {
			matching = append(matching, key)
		}
	}
	s.mux.Unlock()

	// Cursor "0" terminates the client's scan loop after this single page.
	conn.WriteArray(2)
	conn.WriteBulkString("0")
	conn.WriteArray(len(matching))
	for _, key := range matching {
		conn.WriteBulkString(key)
	}
}
