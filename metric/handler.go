package metric

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a Prometheus registry over HTTP on /metrics.
type Server struct {
	addr     string
	gatherer prometheus.Gatherer

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
}

// NewServer creates a metrics server for addr, e.g. "127.0.0.1:9100".
func NewServer(addr string, g prometheus.Gatherer) *Server {
	return &Server{addr: addr, gatherer: g}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return stderrors.New("metric: server already running")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.ln = ln
	s.server = &http.Server{Handler: mux}
	go s.server.Serve(ln)
	return nil
}

// Addr returns the listen address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server, s.ln = nil, nil
	return err
}
