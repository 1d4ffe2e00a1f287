// Package api serves the status of a running monitor session over HTTP:
// Prometheus metrics, the session and its history as JSON, and a websocket
// stream of new runs.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/monitor"
)

const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 30 * time.Second
	idleTimeout           = 60 * time.Second
	maxHeaderBytes        = 1 << 20
	serverShutdownTimeout = 5 * time.Second
)

// Source is the monitor state the server exposes.
type Source interface {
	Session() monitor.Session
	History() []monitor.Entry
	Series() []string
	Baseline(series string) (monitor.Stats, bool)
}

// Server is the monitor status server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	source     Source
	live       *Hub
	gatherer   prometheus.Gatherer
	logger     *logging.Logger
	startTime  time.Time
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a server for source. A nil gatherer serves the default
// Prometheus registry.
func New(cfg config.ServerConfig, source Source, gatherer prometheus.Gatherer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger = logger.WithComponent("api")

	s := &Server{
		router:    mux.NewRouter(),
		source:    source,
		live:      NewHub(cfg.AllowedOrigins, logger),
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        s.setupMiddleware(cfg),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Live returns the websocket hub; its Broadcast method is a monitor.Observer.
func (s *Server) Live() *Hub {
	return s.live
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("status server failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting status server", "address", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("status server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop closes websocket clients and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Info("Stopping status server")
	s.live.Close()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Status server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/liveness", s.livenessHandler).Methods(http.MethodGet)
	api.HandleFunc("/session", s.sessionHandler).Methods(http.MethodGet)
	api.HandleFunc("/history", s.historyHandler).Methods(http.MethodGet)
	api.HandleFunc("/baselines", s.baselinesHandler).Methods(http.MethodGet)
	api.Handle("/live", s.live).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("no route for %s", r.URL.Path))
	})
}

// setupMiddleware wraps the router with CORS, request logging and panic
// recovery, outermost last.
func (s *Server) setupMiddleware(cfg config.ServerConfig) http.Handler {
	var h http.Handler = s.router
	if len(cfg.AllowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(cfg.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(h)
	}
	h = handlers.CustomLoggingHandler(io.Discard, h, s.logRequest)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.logger.Debug("HTTP request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"duration", time.Since(p.TimeStamp),
		"remote_addr", p.Request.RemoteAddr)
}

type recoveryLogger struct {
	logger *logging.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Panic in status handler", "error", fmt.Sprint(v...))
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
		"clients":   s.live.Clients(),
	})
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, s.source.Session())
}

// historyHandler returns retained entries oldest first; ?limit=n keeps the
// newest n.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	entries := s.source.History()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer, got %q", raw))
			return
		}
		if limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}
	if entries == nil {
		entries = []monitor.Entry{}
	}
	s.WriteJSON(w, r, http.StatusOK, entries)
}

// BaselineResponse is one series in /api/v1/baselines.
type BaselineResponse struct {
	Series string `json:"series"`
	monitor.Stats
}

func (s *Server) baselinesHandler(w http.ResponseWriter, r *http.Request) {
	series := s.source.Series()
	sort.Strings(series)
	out := make([]BaselineResponse, 0, len(series))
	for _, name := range series {
		if st, ok := s.source.Baseline(name); ok {
			out = append(out, BaselineResponse{Series: name, Stats: st})
		}
	}
	s.WriteJSON(w, r, http.StatusOK, out)
}

// WriteJSON writes a JSON response. The body is encoded before the header
// goes out so an encoding failure still yields a 500 with an error body.
func (s *Server) WriteJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
		statusCode = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorResponse{Error: "failed to encode response", Timestamp: time.Now().UTC()})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Debug("Failed to write JSON response", "error", err, "path", r.URL.Path)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Debug("Status request rejected",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err)
	s.WriteJSON(w, r, statusCode, ErrorResponse{Error: err.Error(), Timestamp: time.Now().UTC()})
}
