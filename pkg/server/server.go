// Package server runs the authentication service: it accepts connections
// and serves each one with a session handler on its own goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/gridauth/internal/logger"
	"github.com/marmos91/gridauth/pkg/metrics"
	"github.com/marmos91/gridauth/pkg/session"
)

// Config holds the listener configuration.
type Config struct {
	// BindAddress is the IP address to bind to.
	// Empty string or "0.0.0.0" binds to all interfaces.
	BindAddress string

	// Port is the TCP port to listen on. 0 picks a free port.
	Port int

	// MaxConnections limits the number of concurrent sessions. While the
	// limit is reached the accept loop pauses; 0 means unlimited.
	MaxConnections int

	// MetricsLogInterval is the interval at which to log server metrics.
	// 0 disables periodic metrics logging.
	MetricsLogInterval time.Duration
}

// SessionHandler serves one connection and closes it before returning.
type SessionHandler interface {
	Serve(ctx context.Context, conn net.Conn) *session.Result
}

// Server accepts connections and dispatches each to the session handler.
//
// Stop halts acceptance only. Sessions already running are never interrupted
// and are allowed to drain, so shutdown latency is bounded by the slowest
// in-flight session.
//
// Thread safety: all exported methods are safe for concurrent use.
type Server struct {
	config  Config
	handler SessionHandler
	metrics metrics.ServiceMetrics

	listenerMu sync.RWMutex
	listener   net.Listener

	// listenerReady is closed once the listener is bound.
	listenerReady chan struct{}

	// shutdown is closed by Stop; the accept loop treats listener errors
	// after that point as expected.
	shutdown     chan struct{}
	shutdownOnce sync.Once

	startOnce sync.Once
	loopDone  chan struct{}

	activeConns sync.WaitGroup
	connCount   atomic.Int32

	// connSemaphore limits concurrent sessions; nil means unlimited.
	connSemaphore chan struct{}
}

// New creates a stopped server. m may be nil.
func New(config Config, handler SessionHandler, m metrics.ServiceMetrics) *Server {
	var sem chan struct{}
	if config.MaxConnections > 0 {
		sem = make(chan struct{}, config.MaxConnections)
	}
	return &Server{
		config:        config,
		handler:       handler,
		metrics:       m,
		listenerReady: make(chan struct{}),
		shutdown:      make(chan struct{}),
		loopDone:      make(chan struct{}),
		connSemaphore: sem,
	}
}

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("server: already started")

// Start binds the listener and begins accepting in the background. It
// returns as soon as the listener is bound.
func (s *Server) Start() error {
	err := ErrAlreadyStarted
	s.startOnce.Do(func() {
		err = s.listen()
		if err != nil {
			close(s.loopDone)
			return
		}
		select {
		case <-s.shutdown:
			// Stop raced with Start.
			_ = s.listener.Close()
			close(s.loopDone)
			return
		default:
		}
		go s.acceptLoop()
		if s.config.MetricsLogInterval > 0 {
			go s.logMetrics()
		}
	})
	return err
}

func (s *Server) listen() error {
	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()
	close(s.listenerReady)

	logger.Info("Authentication service listening", logger.KeyListenAddr, ln.Addr().String(),
		logger.KeyMaxConns, s.config.MaxConnections)
	return nil
}

func (s *Server) acceptLoop() {
	defer close(s.loopDone)

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			s.release()
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Error("Listener closed unexpectedly", logger.Err(err))
				return
			}
			logger.Debug("Error accepting connection", logger.Err(err))
			continue
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", logger.Err(err))
			}
		}

		s.activeConns.Add(1)
		active := s.connCount.Add(1)
		if s.metrics != nil {
			s.metrics.RecordConnectionAccepted()
			s.metrics.SetActiveConnections(active)
		}
		logger.Debug("Connection accepted", logger.RemoteAddr(conn.RemoteAddr().String()),
			logger.KeyActiveConns, active)

		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer func() {
		s.release()
		active := s.connCount.Add(-1)
		if s.metrics != nil {
			s.metrics.RecordConnectionClosed()
			s.metrics.SetActiveConnections(active)
		}
		s.activeConns.Done()
	}()

	defer func() {
		if r := recover(); r != nil {
			_ = conn.Close()
			logger.Error("Session handler panic", logger.RemoteAddr(conn.RemoteAddr().String()),
				logger.KeyError, fmt.Sprint(r))
		}
	}()

	// Sessions run to completion regardless of Stop.
	s.handler.Serve(context.Background(), conn)
}

func (s *Server) release() {
	if s.connSemaphore != nil {
		<-s.connSemaphore
	}
}

// Stop stops accepting new connections and waits for in-flight sessions to
// finish or for ctx to end, whichever comes first. Sessions are never
// interrupted: when ctx ends first Stop returns ctx.Err() and the sessions
// keep running. Stop is idempotent.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	active := s.connCount.Load()
	if active > 0 {
		logger.Info("Waiting for in-flight sessions to drain", logger.KeyActiveConns, active)
	}

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Authentication service stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Stop returned before sessions drained",
			logger.KeyActiveConns, s.connCount.Load(), logger.Err(ctx.Err()))
		return ctx.Err()
	}
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing listener", logger.Err(err))
			}
		}
		s.listenerMu.Unlock()

		// A server stopped before Start never runs its accept loop.
		s.startOnce.Do(func() { close(s.loopDone) })
	})
}

// Wait blocks until the accept loop has exited and every session has
// finished.
func (s *Server) Wait() {
	<-s.loopDone
	s.activeConns.Wait()
}

// ActiveConnections returns the number of sessions currently being served.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

// ListenerReady is closed once Start has bound the listener.
func (s *Server) ListenerReady() <-chan struct{} {
	return s.listenerReady
}

// Listening reports whether the listener is bound and shutdown has not
// started. It never blocks.
func (s *Server) Listening() bool {
	select {
	case <-s.shutdown:
		return false
	default:
	}
	select {
	case <-s.listenerReady:
		return true
	default:
		return false
	}
}

// Addr returns the bound address, blocking until the listener is ready.
// It returns nil if the server was stopped before it started listening.
func (s *Server) Addr() net.Addr {
	select {
	case <-s.listenerReady:
	case <-s.shutdown:
	case <-s.loopDone:
	}

	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) logMetrics() {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("Server metrics", logger.KeyActiveConns, s.connCount.Load())
		}
	}
}
