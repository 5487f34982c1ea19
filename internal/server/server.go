// Package server exposes the latest snapshot set over HTTP. Scrapes read
// whatever the refresh scheduler last published and never touch a device.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/export"
	"codeberg.org/mutker/nvsentinel/internal/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
	drainTimeout      = 5 * time.Second

	indexHTML = `<html>
<head><title>nvsentinel</title></head>
<body>
<h1>nvsentinel - GPU monitoring</h1>
<p>Available endpoints:</p>
<ul>
<li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
<li><a href="/health">/health</a> - Health check</li>
</ul>
</body>
</html>
`
)

type Server struct {
	addr       string
	log        logger.Logger
	httpServer *http.Server
}

func New(addr string, source export.SnapshotSource, log logger.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(export.NewStoreCollector(source)); err != nil {
		return nil, errors.New().Wrap(errors.ErrInitFailed, err)
	}

	s := &Server{
		addr: addr,
		log:  log,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleIndex)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.wrap(mux),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	return s, nil
}

// Handler returns the routed handler so callers can mount it themselves.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve binds the listener and serves until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	errFactory := errors.New()

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errFactory.WithData(ErrListenFailed, struct {
			Addr  string
			Error string
		}{
			Addr:  s.addr,
			Error: err.Error(),
		})
	}

	s.log.Info().Str("addr", listener.Addr().String()).Msg("Exposition server listening")

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		return errFactory.Wrap(ErrServeFailed, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	s.log.Info().Msg("Exposition server stopped")

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "healthy", "timestamp": "%d"}`, time.Now().Unix())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)

		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

// wrap logs each request and converts handler panics into a 500 instead of
// tearing down the connection.
func (s *Server) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("panic", fmt.Sprint(rec)).
					Msg("Handler panicked")

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Msg("Request")

		next.ServeHTTP(w, r)
	})
}
