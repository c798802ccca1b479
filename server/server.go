package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/petal-labs/flowmcp/bus"
	"github.com/petal-labs/flowmcp/network"
	"github.com/petal-labs/flowmcp/sse"
	"github.com/petal-labs/flowmcp/tool"
)

// ServerName is reported by GET /.
const ServerName = "flow-mcp-server"

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Registry *tool.Registry
	Invoker  tool.Invoker
	Bus      bus.EventBus
	Network  network.Selection
	Version  string

	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	// SSEHeartbeat overrides the SSE ping interval.
	SSEHeartbeat time.Duration

	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the network transport: HTTP request/response tool calls plus the
// SSE broadcast stream.
type Server struct {
	registry   *tool.Registry
	invoker    tool.Invoker
	events     *sse.SSEHandler
	network    network.Selection
	version    string
	metrics    http.Handler
	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = tool.NewRegistry()
	}
	invoker := cfg.Invoker
	if invoker == nil {
		invoker = tool.NewDispatcher(tool.DispatcherConfig{Registry: registry, Events: cfg.Bus, Logger: logger})
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		registry: registry,
		invoker:  invoker,
		events: sse.NewSSEHandler(sse.HandlerConfig{
			Bus:               cfg.Bus,
			HeartbeatInterval: cfg.SSEHeartbeat,
			Logger:            logger,
		}),
		network:    cfg.Network,
		version:    cfg.Version,
		metrics:    cfg.Metrics,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the adapter routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /sse", s.events)
	mux.HandleFunc("POST /messages", s.handleMessages)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("GET /networks", s.handleNetworks)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the `{error}` envelope shared with the stream transport.
type errorBody struct {
	ID    json.RawMessage `json:"id,omitempty"`
	Error string          `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}
