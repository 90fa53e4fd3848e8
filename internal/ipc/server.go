package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	// DefaultConnTimeout bounds one request/response exchange.
	DefaultConnTimeout = 5 * time.Second
	maxRequestBytes    = 64 << 10
)

// Handler processes one control command.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithConnTimeout sets the per-connection read/write deadline.
func WithConnTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithServerLogger sets the logger used for per-connection failures.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server answers control commands for the lifetime of the daemon. Every
// connection carries a deadline, and cancelling the serve context closes the
// listener along with any connection still open.
type Server struct {
	handler Handler
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewServer builds a Server around handler.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	s := &Server{
		handler: handler,
		timeout: DefaultConnTimeout,
		logger:  slog.New(slog.DiscardHandler),
		conns:   make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve runs a Server with the given options until ctx is cancelled or the
// listener is closed.
func Serve(ctx context.Context, listener net.Listener, handler Handler, opts ...ServerOption) error {
	return NewServer(handler, opts...).Serve(ctx, listener)
}

// Serve accepts connections until ctx is cancelled or the listener is closed.
// It returns once every connection has finished.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
		s.closeAll()
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.closeAll()
			s.wg.Wait()
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		s.logger.Debug("set control deadline failed", "error", err)
		return
	}

	line, err := bufio.NewReader(io.LimitReader(conn, maxRequestBytes)).ReadBytes('\n')
	if err != nil {
		if ctx.Err() == nil {
			s.reply(conn, Response{Error: fmt.Sprintf("read request: %v", err)})
		}
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.reply(conn, Response{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}

	resp := s.handler.Handle(ctx, req)
	s.logger.Debug("control command handled", "command", req.Command, "ok", resp.OK)
	s.reply(conn, resp)
}

func (s *Server) reply(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug("write control response failed", "error", err)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}
