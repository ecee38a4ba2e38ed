// Package network implements the host notification listener and the
// connection handling for game hosts feeding the recorder.
package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/gamerecorder/internal/protocol"
)

// Connection wraps a TCP connection from a game host.
// Each host keeps one persistent connection to the recorder and streams
// length-prefixed notification frames over it.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	host   string
	logger zerolog.Logger

	// Timestamps
	connectedAt  time.Time
	lastActivity time.Time

	// Counters
	frames uint64

	// State
	closed bool
}

// NewConnection wraps an existing net.Conn.
func NewConnection(conn net.Conn) *Connection {
	now := time.Now()
	return &Connection{
		conn:         conn,
		connectedAt:  now,
		lastActivity: now,
		logger:       log.With().Str("component", "connection").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// SetHost associates this connection with the name announced by the host.
func (c *Connection) SetHost(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.host = name
	c.logger = log.With().
		Str("component", "connection").
		Str("host", name).
		Logger()
}

// Host returns the announced host name.
func (c *Connection) Host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// ReadPacket reads a single frame from the connection.
// Blocks until a frame is available or timeout occurs.
func (c *Connection) ReadPacket(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	data, err := protocol.ReadPacket(c.conn)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.frames++
	c.mu.Unlock()

	return data, nil
}

// WritePacket sends a frame through the connection.
func (c *Connection) WritePacket(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err := protocol.WritePacket(c.conn, data)
	if err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	c.lastActivity = time.Now()
	return nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info().Uint64("frames", c.frames).Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read/write activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Frames returns the number of frames read so far.
func (c *Connection) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// HostInfo is a point-in-time view of a connected host.
type HostInfo struct {
	Name         string    `json:"name"`
	Remote       string    `json:"remote"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Frames       uint64    `json:"frames"`
}

// ConnectionRegistry tracks connected hosts by name.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*Connection),
	}
}

// Register adds a connection to the registry. A previous connection
// announcing the same host name is closed.
func (r *ConnectionRegistry) Register(host string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[host]; ok && existing != conn {
		existing.Close()
	}

	r.conns[host] = conn
	log.Debug().Str("host", host).Msg("connection registered")
}

// Unregister removes a connection from the registry if it is still the
// one registered under host.
func (r *ConnectionRegistry) Unregister(host string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.conns[host]; ok && current == conn {
		delete(r.conns, host)
		log.Debug().Str("host", host).Msg("connection unregistered")
	}
}

// Count returns the number of connected hosts.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Hosts returns a snapshot of connected hosts.
func (r *ConnectionRegistry) Hosts() []HostInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]HostInfo, 0, len(r.conns))
	for name, conn := range r.conns {
		result = append(result, HostInfo{
			Name:         name,
			Remote:       conn.RemoteAddr().String(),
			ConnectedAt:  conn.ConnectedAt(),
			LastActivity: conn.LastActivity(),
			Frames:       conn.Frames(),
		})
	}
	return result
}

// CloseAll closes all connections in the registry.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for host, conn := range r.conns {
		conn.Close()
		delete(r.conns, host)
	}

	log.Info().Msg("all host connections closed")
}
