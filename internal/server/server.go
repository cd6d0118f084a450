// Package server owns the HTTP listener, its graceful shutdown and the
// route table.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc stops one component within the deadline carried by ctx.
type ShutdownFunc func(ctx context.Context) error

type Options struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type component struct {
	name string
	stop ShutdownFunc
}

// Server runs the HTTP listener and, once it stops, the registered
// components in reverse registration order.
type Server struct {
	http    *http.Server
	grace   time.Duration
	log     *slog.Logger
	mu      sync.Mutex
	members []component
}

func New(handler http.Handler, opts Options, logger *slog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(opts.Port)),
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
		},
		grace: opts.ShutdownTimeout,
		log:   logger.With("component", "server"),
	}
}

// OnShutdown registers fn to run after the listener has drained.
func (s *Server) OnShutdown(name string, fn ShutdownFunc) {
	s.mu.Lock()
	s.members = append(s.members, component{name: name, stop: fn})
	s.mu.Unlock()
}

func (s *Server) Addr() string { return s.http.Addr }

// Run listens on the configured port until ctx ends or the process gets
// SIGINT or SIGTERM.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx ends, then shuts down. A listener failure
// is returned without running the shutdown hooks.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	failed := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()

	select {
	case err := <-failed:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	return s.shutdown()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()

	s.log.Info("draining HTTP connections", "timeout", s.grace)
	s.http.SetKeepAlivesEnabled(false)
	// In-flight sync runs share the grace period with the components.
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Error("HTTP shutdown", "error", err)
	}

	s.mu.Lock()
	members := s.members
	s.mu.Unlock()

	var errs []error
	for i := len(members) - 1; i >= 0; i-- {
		m := members[i]
		if err := m.stop(ctx); err != nil {
			s.log.Error("component shutdown failed", "name", m.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
			continue
		}
		s.log.Info("component stopped", "name", m.name)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.log.Info("server stopped")
	return nil
}
