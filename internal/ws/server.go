// Package ws handles WebSocket connection management: upgrading HTTP
// connections, maintaining active client connections, and dispatching
// incoming messages to the appropriate handlers. The server runs one read
// goroutine per connection; a background heartbeat evicts connections that
// have gone silent.
package ws

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/pawnecta/messaging/internal/metrics"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	MaxConnections int           // hard cap on total connections
	MaxFrameBytes  int64         // largest data frame accepted from a client
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
// The frame cap leaves generous headroom over the message content limit plus
// protocol envelope overhead.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections: 100000,
		MaxFrameBytes:  16 * 1024,
		WriteTimeout:   10 * time.Second,
	}
}

// Server upgrades HTTP connections to WebSocket and runs a read loop per
// connection. It owns no routing of its own; mount HandleUpgrade on the
// application's HTTP router.
type Server struct {
	config       ServerConfig
	conns        *ConnectionManager
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(conn *Connection)

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewServer creates a Server with the given configuration and message
// callback. The onMessage function is called from the connection's read
// goroutine whenever a complete WebSocket text frame is received.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		onMessage: onMessage,
		done:      make(chan struct{}),
	}
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (read error, heartbeat timeout, or graceful close). The handler can still
// read the connection's bound user id.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// HandleUpgrade upgrades an HTTP request to a WebSocket connection using the
// gobwas/ws zero-copy upgrader. On success it registers the connection and
// starts its read goroutine.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:        uuid.NewString(),
		Conn:      conn,
		CreatedAt: time.Now(),
	}
	c.Touch()
	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()

	log.Printf("[ws] new connection id=%s (total=%d)", c.ID, s.conns.Count())
}

// readLoop reads frames until the connection dies. wsutil.NextReader handles
// control frames (ping, pong, close) so a data frame that never arrives does
// not block them.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			if err != io.EOF {
				if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
					log.Printf("[ws] read error id=%s: %v", c.ID, err)
				}
			}
			return
		}

		// Any frame proves the connection is alive.
		c.Touch()

		if header.OpCode.IsControl() {
			if header.OpCode == ws.OpClose {
				return
			}
			if header.OpCode == ws.OpPing {
				if err := wsutil.WriteServerMessage(c.Conn, ws.OpPong, nil); err != nil {
					return
				}
			}
			// Pong: nothing else to do.
			continue
		}

		// The declared length comes from the client; never allocate it
		// blindly. Oversize frames cost the connection.
		if s.config.MaxFrameBytes > 0 && header.Length > s.config.MaxFrameBytes {
			log.Printf("[ws] frame too large id=%s len=%d max=%d", c.ID, header.Length, s.config.MaxFrameBytes)
			return
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		if s.onMessage != nil {
			s.onMessage(c, data)
		}
	}
}

// RemoveConnection removes a connection from the manager and closes the
// underlying network connection. It is exported so that the heartbeat
// monitor can evict dead connections.
func (s *Server) RemoveConnection(c *Connection) {
	// Guard: only proceed if the connection was actually in the manager.
	// This prevents double cleanup when multiple goroutines race to remove
	// the same connection (e.g., read error + heartbeat timeout).
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	log.Printf("[ws] connection closed id=%s user=%s (total=%d)", c.ID, c.UserID(), s.conns.Count())
}

// SendTo writes a WebSocket text frame to the connection identified by
// connID. It is goroutine-safe thanks to the per-connection write mutex.
func (s *Server) SendTo(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	return s.write(c, data)
}

// SendToUser writes a frame to every connection bound to the user. A user
// with several tabs open receives the frame on each. Write failures on
// individual connections are logged; the read loop cleans them up.
func (s *Server) SendToUser(userID string, data []byte) {
	for _, c := range s.conns.ForUser(userID) {
		if err := s.write(c, data); err != nil {
			log.Printf("[ws] send to user=%s conn=%s: %v", userID, c.ID, err)
		}
	}
}

func (s *Server) write(c *Connection, data []byte) error {
	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	err := c.WriteMessage(data)
	// Clear the deadline so it does not affect heartbeat pings.
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// Connections returns the ConnectionManager for external access to
// connection state (e.g., by the heartbeat monitor).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown closes all active connections and stops the read loops. The HTTP
// listener is owned by the caller and must be shut down first so no new
// upgrades arrive.
func (s *Server) Shutdown() {
	log.Println("[ws] shutting down server...")

	s.mu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}
	s.wg.Wait()

	log.Printf("[ws] server stopped, all connections closed")
}
