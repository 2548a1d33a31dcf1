package utils

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	DefaultReadTimeout     = 60 * time.Second
	DefaultWriteTimeout    = DefaultReadTimeout
	DefaultShutdownTimeout = 30 * time.Second
)

// Server wraps http.Server with signal driven graceful shutdown.
type Server struct {
	*http.Server

	listener   net.Listener
	onShutdown []func(context.Context)
}

// NewServer creates a Server with timeouts and handler.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *Server {
	return &Server{
		Server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
	}
}

// OnShutdown registers fn to run after the listener stops accepting and in-flight requests drain.
// Hooks run in registration order.
func (srv *Server) OnShutdown(fn func(context.Context)) {
	srv.onShutdown = append(srv.onShutdown, fn)
}

// Listen binds the listening socket so callers can learn the address before serving.
func (srv *Server) Listen() (net.Addr, error) {
	addr := srv.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv.listener = ln
	return ln.Addr(), nil
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	if srv.listener == nil {
		if _, err := srv.Listen(); err != nil {
			return err
		}
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(srv.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	Sugar.Info("graceful shutting down HTTP server")
	sctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(sctx)
	if err != nil {
		Sugar.Errorf("HTTP server shutdown error: %v", err)
	}
	for _, fn := range srv.onShutdown {
		fn(sctx)
	}
	Sugar.Info("HTTP server shutdown finished")
	return err
}

// GraceServer serves handler on addr until a termination signal.
func GraceServer(addr string, handler http.Handler, hooks ...func(context.Context)) error {
	srv := NewServer(addr, handler, DefaultReadTimeout, DefaultWriteTimeout)
	for _, h := range hooks {
		srv.OnShutdown(h)
	}
	return srv.Run(context.Background())
}
