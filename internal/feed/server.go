// Package feed broadcasts serialized spectra to TCP clients as
// newline-delimited JSON and fans the same payloads out to in-process
// subscribers (debug tail, MQTT, gRPC).
package feed

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spectro.cam/internal/monitoring"
)

const (
	// pendingConnCapacity bounds accepted sockets waiting to join the
	// broadcast loop. Connections beyond it are closed.
	pendingConnCapacity = 100
	writeTimeout        = time.Second
	subscriberBuffer    = 16

	// accept retry backoff after a transient error such as EMFILE
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ClientInfo describes a connected feed client.
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Sent        uint64    `json:"sent"`
}

type client struct {
	info ClientInfo
	conn net.Conn
	sent atomic.Uint64
}

// Stats is a snapshot of the server counters.
type Stats struct {
	Clients      int    `json:"clients"`
	Accepted     uint64 `json:"accepted"`
	Rejected     uint64 `json:"rejected"`
	AcceptErrors uint64 `json:"accept_errors"`
	Dropped      uint64 `json:"dropped"`
	Broadcasts   uint64 `json:"broadcasts"`
}

// Server accepts TCP clients and writes every broadcast payload, followed by
// a newline, to each of them. A client whose write fails is dropped.
type Server struct {
	ln        net.Listener
	broadcast <-chan []byte

	mu      sync.Mutex
	clients []*client
	latest  []byte

	subscriberMu sync.Mutex
	subscribers  map[string]chan []byte

	accepted     atomic.Uint64
	rejected     atomic.Uint64
	acceptErrors atomic.Uint64
	dropped      atomic.Uint64
	broadcasts   atomic.Uint64
}

// Listen opens a TCP listener on addr.
func Listen(addr string, broadcast <-chan []byte) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServer(ln, broadcast), nil
}

// NewServer serves feed clients from ln.
func NewServer(ln net.Listener, broadcast <-chan []byte) *Server {
	return &Server{
		ln:          ln,
		broadcast:   broadcast,
		subscribers: make(map[string]chan []byte),
	}
}

// Addr is the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Run accepts and broadcasts until ctx is cancelled or the broadcast channel
// is closed. Connected clients keep receiving after the listener is closed.
// Every client and subscriber is closed before it returns.
func (s *Server) Run(ctx context.Context) error {
	pending := make(chan *client, pendingConnCapacity)
	acceptDone := make(chan error, 1)
	go func(done chan<- error) {
		done <- s.accept(pending)
	}(acceptDone)

	defer s.shutdown(pending)

	monitoring.Logf("[Feed] listening on %s", s.ln.Addr())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-acceptDone:
			acceptDone = nil
			monitoring.Logf("[Feed] no longer accepting clients: %v", err)
		case payload, ok := <-s.broadcast:
			if !ok {
				return nil
			}
			s.join(pending)
			s.send(payload)
		}
	}
}

// accept hands new connections to the broadcast loop until the listener is
// closed. Other accept errors are retried with backoff.
func (s *Server) accept(pending chan<- *client) error {
	var delay time.Duration
	for {
		conn, err := s.ln.Accept()
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		if err != nil {
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			s.acceptErrors.Add(1)
			monitoring.Logf("[Feed] accept error: %v; retrying in %v", err, delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		c := &client{
			conn: conn,
			info: ClientInfo{
				ID:          uuid.NewString(),
				RemoteAddr:  conn.RemoteAddr().String(),
				ConnectedAt: time.Now(),
			},
		}
		select {
		case pending <- c:
			s.accepted.Add(1)
			monitoring.Logf("[Feed] client %s connected from %s", c.info.ID, c.info.RemoteAddr)
		default:
			s.rejected.Add(1)
			monitoring.Logf("[Feed] too many pending clients, closing %s", c.info.RemoteAddr)
			conn.Close()
		}
	}
}

// join moves every pending connection into the client list.
func (s *Server) join(pending <-chan *client) {
	for {
		select {
		case c := <-pending:
			s.mu.Lock()
			s.clients = append(s.clients, c)
			s.mu.Unlock()
		default:
			return
		}
	}
}

func (s *Server) send(payload []byte) {
	s.broadcasts.Add(1)
	line := make([]byte, 0, len(payload)+1)
	line = append(append(line, payload...), '\n')

	s.mu.Lock()
	s.latest = payload
	clients := s.clients
	s.mu.Unlock()

	kept := clients[:0:0]
	for _, c := range clients {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := c.conn.Write(line); err != nil {
			s.dropped.Add(1)
			monitoring.Logf("[Feed] dropping client %s: %v", c.info.ID, err)
			c.conn.Close()
			continue
		}
		c.sent.Add(1)
		kept = append(kept, c)
	}

	s.mu.Lock()
	s.clients = kept
	s.mu.Unlock()

	s.subscriberMu.Lock()
	for _, ch := range s.subscribers {
		select {
		case ch <- payload:
		default:
			// slow subscribers miss payloads rather than stall the feed
		}
	}
	s.subscriberMu.Unlock()
}

func (s *Server) shutdown(pending chan *client) {
	s.ln.Close()
	s.join(pending)

	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.clients = nil
	s.mu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	monitoring.Logf("[Feed] stopped")
}

// Subscribe returns a channel receiving every broadcast payload. Payloads
// are skipped while the channel is full.
func (s *Server) Subscribe() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (s *Server) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Clients lists the connected clients.
func (s *Server) Clients() []ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ClientInfo, len(s.clients))
	for i, c := range s.clients {
		out[i] = c.info
		out[i].Sent = c.sent.Load()
	}
	return out
}

// Latest returns the most recent payload, or nil before the first broadcast.
func (s *Server) Latest() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()
	return Stats{
		Clients:      n,
		Accepted:     s.accepted.Load(),
		Rejected:     s.rejected.Load(),
		AcceptErrors: s.acceptErrors.Load(),
		Dropped:      s.dropped.Load(),
		Broadcasts:   s.broadcasts.Load(),
	}
}
