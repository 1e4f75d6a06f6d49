// Package server exposes the canvas compiler over a JSON HTTP API: compiling
// and checking ad-hoc graphs, connection checks for the editor, a workflow
// store with compile-on-save and a live stream of compile events.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"github.com/petal-labs/flowcanvas/bus"
	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/connect"
	"github.com/petal-labs/flowcanvas/registry"
	"github.com/petal-labs/flowcanvas/sse"
	"github.com/petal-labs/flowcanvas/store"
)

// Config configures a Server instance.
type Config struct {
	Store     store.Store
	Compiler  *compiler.Compiler
	Validator *connect.Validator
	Registry  *registry.Registry

	// EventStore and EventBus back GET /api/workflows/{id}/events. A
	// supplied Compiler must feed them itself, usually through a
	// bus.Recorder. Defaults are in-memory.
	EventStore bus.EventStore
	EventBus   bus.EventBus

	// CORSOrigins lists allowed origins. Defaults to "*".
	CORSOrigins []string
	MaxBody     int64
	Logger      *slog.Logger
}

// Server is the flowcanvas HTTP API server.
type Server struct {
	store       store.Store
	compiler    *compiler.Compiler
	validator   *connect.Validator
	registry    *registry.Registry
	events      *sse.Handler
	eventStore  bus.EventStore
	locks       *workflowLocks
	corsOrigins []string
	maxBody     int64
	logger      *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := cfg.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.Global()
	}
	evStore := cfg.EventStore
	if evStore == nil {
		evStore = bus.NewMemEventStore(1000)
	}
	eb := cfg.EventBus
	if eb == nil {
		eb = bus.NewMemBus(bus.MemBusConfig{})
	}
	c := cfg.Compiler
	if c == nil {
		rec := bus.NewRecorder(evStore, eb, logger)
		c = compiler.New(compiler.Options{Logger: logger, Registry: reg, EventHandler: rec.Handle})
	}
	v := cfg.Validator
	if v == nil {
		v = connect.Default(connect.WithRegistry(reg))
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		store:       st,
		compiler:    c,
		validator:   v,
		registry:    reg,
		events:      sse.NewHandler(evStore, eb),
		eventStore:  evStore,
		locks:       newWorkflowLocks(),
		corsOrigins: origins,
		maxBody:     maxBody,
		logger:      logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.maxBodyMiddleware(handler)
	handler = cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Last-Event-ID"},
	}).Handler(handler)
	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/node-types", s.handleNodeTypes)
	mux.HandleFunc("POST /api/compile", s.handleCompile)
	mux.HandleFunc("POST /api/validate", s.handleValidate)
	mux.HandleFunc("POST /api/connections/check", s.handleCheckConnection)

	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("PUT /api/workflows/{id}", s.handleUpdateWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/compile", s.handleCompileWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/edges", s.handleConnectWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}/edges/{edge_id}", s.handleDisconnectWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/variables/{node_id}", s.handleWorkflowVariables)
	mux.Handle("GET /api/workflows/{id}/events", s.events)
	mux.HandleFunc("GET /api/workflows/{id}/compiles/latest", s.handleLatestCompile)
}

// --- Middleware ---

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}
