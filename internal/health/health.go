// Package health serves the liveness and metrics endpoints of the stream
// worker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Matza-labs/atlas-ai/internal/logging"
	"github.com/Matza-labs/atlas-ai/internal/metrics"
)

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides GET /healthz and GET /metrics.
type Server struct {
	pinger  Pinger
	metrics *metrics.Metrics
	addr    string
	server  *http.Server
	logger  *zap.Logger
}

// NewServer creates a health server listening on addr. m and logger may be
// nil; without metrics /metrics answers 404.
func NewServer(addr string, pinger Pinger, m *metrics.Metrics, logger *zap.Logger) *Server {
	return &Server{
		pinger:  pinger,
		metrics: m,
		addr:    addr,
		logger:  logging.OrNop(logger).Named("health"),
	}
}

// Handler returns the server's routes.
func (h *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	mux.Handle("/metrics", h.metrics.Handler())
	return mux
}

// Start binds the listener and serves in the background. Bind errors are
// returned immediately.
func (h *Server) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	h.server = &http.Server{
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health server error", zap.Error(err))
		}
	}()

	h.logger.Info("health server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Shutdown gracefully shuts down the server.
func (h *Server) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// Response is the JSON body of /healthz.
type Response struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

// healthCheckHandler returns 200 if Redis answers a ping within two seconds,
// 503 otherwise.
func (h *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := Response{Status: "healthy", Redis: "connected"}
	status := http.StatusOK

	if err := h.pinger.Ping(ctx); err != nil {
		response = Response{Status: "unhealthy", Redis: "disconnected", Error: err.Error()}
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
