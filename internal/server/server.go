package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/normanking/netbot/internal/data"
	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/metrics"
	"github.com/normanking/netbot/internal/orchestrator"
	"github.com/normanking/netbot/internal/persona"
	"github.com/normanking/netbot/internal/router"
)

// TurnHandler runs conversation turns.
type TurnHandler interface {
	Handle(ctx context.Context, turn orchestrator.Turn) (*orchestrator.Reply, error)
}

// DatasetLister lists ingested datasets.
type DatasetLister interface {
	ListDatasets(ctx context.Context) ([]*data.Dataset, error)
}

// HealthChecker reports whether the backing database is usable.
type HealthChecker interface {
	Health() error
}

// TurnLog reads the recorded conversation turns.
type TurnLog interface {
	SessionTurns(ctx context.Context, sessionID string, limit int) ([]*data.Turn, error)
	RecentTurns(ctx context.Context, limit int) ([]*data.Turn, error)
	PersonaCounts(ctx context.Context) (map[string]int, error)
}

// RoutingStats exposes the router's counters.
type RoutingStats interface {
	Stats() router.Stats
	ResetStats()
}

// Deps are the components the server exposes.
type Deps struct {
	Turns    TurnHandler
	Personas *persona.Store
	// Datasets is optional; without it /api/v1/datasets returns 503.
	Datasets DatasetLister
	// Health is optional.
	Health HealthChecker
	// Stats feeds GET /api/v1/metrics/llm.
	Stats []StatsSource
	// Routing feeds /api/v1/metrics/router; optional.
	Routing RoutingStats
	// TurnLog backs /api/v1/turns; optional.
	TurnLog TurnLog
	Logger  *logging.Logger
}

// Server is the HTTP and websocket front end.
type Server struct {
	cfg      *Config
	turns    TurnHandler
	personas *persona.Store
	datasets DatasetLister
	health   HealthChecker
	turnLog  TurnLog
	log      *logging.Logger

	apiKeyHash string
	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	handler    http.Handler
	server     *http.Server
	startedAt  time.Time
}

// New creates the server and registers its routes.
func New(cfg *Config, deps Deps) (*Server, error) {
	if deps.Turns == nil {
		return nil, fmt.Errorf("server: turn handler is required")
	}
	if deps.Personas == nil {
		return nil, fmt.Errorf("server: persona store is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := deps.Logger
	if log == nil {
		log = logging.Global().WithComponent("server")
	}

	s := &Server{
		cfg:        cfg,
		turns:      deps.Turns,
		personas:   deps.Personas,
		datasets:   deps.Datasets,
		health:     deps.Health,
		turnLog:    deps.TurnLog,
		log:        log,
		apiKeyHash: cfg.APIKeyHash,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		mux:       http.NewServeMux(),
		startedAt: time.Now(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/personas", s.handleListPersonas)
	s.mux.HandleFunc("GET /api/v1/personas/{key}", s.handleGetPersona)
	s.mux.HandleFunc("GET /api/v1/datasets", s.handleListDatasets)
	s.mux.HandleFunc("GET /api/v1/turns", s.handleListTurns)
	s.mux.HandleFunc("GET /api/v1/turns/personas", s.handlePersonaCounts)
	s.mux.HandleFunc("GET /ws/chat", s.handleChat)
	RegisterMetricsRoutes(s.mux, deps.Stats)
	if deps.Routing != nil {
		RegisterRouterMetricsRoutes(s.mux, deps.Routing)
	}

	s.handler = s.instrument(s.requireKey(s.mux))
	return s, nil
}

// Handle mounts an additional handler, such as the agent-to-agent endpoints.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.handler.ServeHTTP(w, r)
}

// Start listens on addr (or the configured address) until Stop is called.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.Addr
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("listening on %s (auth: %v)", addr, s.apiKeyHash != "")
	s.log.Info("  chat:     ws://%s/ws/chat", addr)
	s.log.Info("  personas: GET http://%s/api/v1/personas", addr)
	s.log.Info("  metrics:  GET http://%s/metrics", addr)

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info("shutting down server...")
	return s.server.Shutdown(ctx)
}

// instrument counts requests by route pattern and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

// statusRecorder captures the response status. It forwards Hijack so
// websocket upgrades keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
