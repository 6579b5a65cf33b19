package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultAddr is the broker's default TCP listen address.
const DefaultAddr = ":5003"

// ServerOptions configures a Server. Zero values select defaults.
type ServerOptions struct {
	Logger       *slog.Logger
	Metrics      *Metrics
	MaxLineBytes int
}

// Server accepts client connections and runs one Handler goroutine per connection.
// There is no connection limit.
type Server struct {
	handler *Handler
	logger  *slog.Logger

	// mu protects conns, the set of live connections closed on shutdown.
	mu    sync.Mutex
	conns map[string]net.Conn
	wg    sync.WaitGroup
}

// NewServer returns a Server dispatching to mgr.
func NewServer(mgr *Manager, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: NewHandler(mgr, logger, opts.Metrics, opts.MaxLineBytes),
		logger:  logger,
		conns:   make(map[string]net.Conn),
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
// On return every live connection has been closed and its handler has finished,
// so all of their leases are back in the ready queue.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()

	s.logger.Info("Broker listening", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Error("Accept failed", "error", err, "retryIn", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		connID := uuid.New().String()
		s.track(connID, conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(connID)
			s.handler.Serve(ctx, connID, conn)
		}()
	}

	ln.Close()
	s.closeAll()
	s.wg.Wait()
	s.logger.Info("Broker stopped")
	return nil
}

func (s *Server) track(connID string, conn net.Conn) {
	s.mu.Lock()
	s.conns[connID] = conn
	s.mu.Unlock()
}

func (s *Server) untrack(connID string) {
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
}
