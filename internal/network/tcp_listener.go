package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/gamerecorder/internal/config"
	"github.com/energizer-project/gamerecorder/internal/events"
	"github.com/energizer-project/gamerecorder/internal/protocol"
)

const (
	// HandshakeTimeout bounds the wait for the host hello frame.
	HandshakeTimeout = 30 * time.Second

	// DefaultReadTimeout applies when the config leaves the host read timeout unset.
	DefaultReadTimeout = 300 * time.Second
)

// TCPListener accepts connections from game hosts on
// {capture_address}:{capture_port} (default 127.0.0.1:1135).
//
// Frames of one connection are handled strictly in arrival order: each
// parsed event is published synchronously before the next frame is read,
// which keeps per-session packet order intact.
type TCPListener struct {
	cfg      config.RecorderData
	eventBus *events.EventBus
	registry *ConnectionRegistry
	parser   *protocol.HostParser

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewTCPListener creates a new TCP listener.
func NewTCPListener(cfg config.RecorderData, eventBus *events.EventBus, registry *ConnectionRegistry) *TCPListener {
	return &TCPListener{
		cfg:      cfg,
		eventBus: eventBus,
		registry: registry,
		parser:   protocol.NewHostParser(),
	}
}

// Start begins listening for host connections. It blocks until ctx is
// cancelled or the listener is stopped.
func (l *TCPListener) Start(ctx context.Context) error {
	addr := net.JoinHostPort(l.cfg.CaptureAddress, fmt.Sprintf("%d", l.cfg.CapturePort))

	// Use SO_REUSEADDR to allow immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start capture listener on %s: %w", addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("capture listener started")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Msg("capture listener stopping")
				l.wg.Wait()
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		log.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Msg("new host connection")

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConnection(ctx, conn)
		}()
	}
}

// Addr returns the bound address, or nil before Start has bound.
func (l *TCPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// handleConnection processes a single host connection. The first frame
// must be a host hello; everything after it is published to the bus.
func (l *TCPListener) handleConnection(ctx context.Context, rawConn net.Conn) {
	conn := NewConnection(rawConn)
	defer conn.Close()

	// Unblock a pending read when the service shuts down.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remote := rawConn.RemoteAddr().String()
	logger := log.With().
		Str("component", "tcp_handler").
		Str("remote", remote).
		Logger()

	data, err := conn.ReadPacket(HandshakeTimeout)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read handshake packet")
		return
	}

	event, err := l.parser.Parse(data)
	if err != nil {
		logger.Error().Err(err).Msg("failed to parse handshake packet")
		return
	}

	if event.Type != events.EventHostConnected {
		logger.Error().
			Str("event_type", string(event.Type)).
			Msg("expected host hello as first packet")
		return
	}

	hello, ok := event.Payload.(events.HostPayload)
	if !ok {
		logger.Error().Msg("invalid host hello payload")
		return
	}

	name := hello.Name
	if name == "" {
		name = remote
	}
	conn.SetHost(name)
	source := "host:" + name

	logger = log.With().
		Str("component", "tcp_handler").
		Str("host", name).
		Logger()

	logger.Info().Msg("host identified, registering connection")

	l.registry.Register(name, conn)
	defer l.registry.Unregister(name, conn)

	l.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHostConnected,
		Source:  source,
		Payload: events.HostPayload{Name: name, Remote: remote},
	})
	defer l.eventBus.Emit(context.Background(), events.Event{
		Type:    events.EventHostClosed,
		Source:  source,
		Payload: events.HostPayload{Name: name, Remote: remote},
	})

	timeout := l.cfg.HostReadTimeoutDuration()
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("context cancelled, closing connection")
			return
		default:
		}

		data, err := conn.ReadPacket(timeout)
		if err != nil {
			if conn.IsClosed() || ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Warn().Dur("timeout", timeout).Msg("host connection timed out")
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				logger.Info().Msg("host disconnected")
				return
			}
			logger.Error().Err(err).Msg("read error, closing connection")
			return
		}

		event, err := l.parser.Parse(data)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to parse packet")
			continue
		}

		if event.Type == events.EventHostConnected {
			logger.Warn().Msg("duplicate host hello ignored")
			continue
		}

		event.Source = source
		if err := l.eventBus.Publish(ctx, *event); err != nil {
			logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("event handling failed")
		}
	}
}

// Stop closes the listening socket and every registered host connection.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registry.CloseAll()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
