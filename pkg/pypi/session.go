package pypi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultAddr binds an ephemeral loopback port.
const DefaultAddr = "127.0.0.1:0"

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
)

// StartOptions configures a Session.
type StartOptions struct {
	// Addr is the listen address; empty means DefaultAddr.
	Addr   string
	Server ServerOptions
}

// Session is a running index server. It lives for one backfill run or one
// serve command and is torn down with Close.
type Session struct {
	srv    *http.Server
	ln     net.Listener
	group  *errgroup.Group
	logger *slog.Logger
}

// Start listens on opts.Addr and serves idx in the background.
func Start(ctx context.Context, idx *Index, opts StartOptions) (*Session, error) {
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	logger := opts.Server.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	server := NewServer(idx, opts.Server)

	srv := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	sess := &Session{srv: srv, ln: ln, group: &errgroup.Group{}, logger: logger}

	sess.group.Go(func() error {
		serveErr := srv.Serve(ln)
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serve index: %w", serveErr)
	})

	logger.InfoContext(ctx, "package index session started", "url", sess.URL(), "artifacts", idx.Len())

	return sess, nil
}

// Addr returns the bound listen address.
func (s *Session) Addr() net.Addr { return s.ln.Addr() }

// URL returns the base URL of the simple index, with a trailing slash.
func (s *Session) URL() string {
	return "http://" + s.ln.Addr().String() + "/"
}

// Close shuts the server down gracefully and waits for the serve loop.
func (s *Session) Close(ctx context.Context) error {
	shutdownErr := s.srv.Shutdown(ctx)
	waitErr := s.group.Wait()

	s.logger.InfoContext(ctx, "package index session stopped", "url", s.URL())

	if shutdownErr != nil {
		return errors.Join(fmt.Errorf("shutdown index: %w", shutdownErr), waitErr)
	}

	return waitErr
}
