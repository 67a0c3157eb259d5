package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/pkg/engine"
)

var errMissingModelOrPipeline = errors.New("transport: request must set either model or pipeline")

// Server is the gorilla/mux HTTP surface in front of an Engine, plus the
// gorilla/websocket lifecycle-event hub. Grounded on the teacher's
// internal/api.NewRouter for route registration style and cmd/server/main.go
// for the listen/shutdown lifecycle, narrowed to the handful of routes
// spec.md §6 names -- this layer holds no business logic of its own.
type Server struct {
	engine *engine.Engine
	hub    *Hub
	logger *slog.Logger

	httpServer *http.Server
	hubDone    chan struct{}
}

// NewServer builds a Server serving eng over addr. Call Serve to start
// listening and Shutdown to drain in-flight requests.
func NewServer(addr string, eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  eng,
		hub:     NewHub(logger),
		logger:  logger.With("component", "transport.server"),
		hubDone: make(chan struct{}),
	}

	limiter := newPerClientLimiter(600, 50)

	router := mux.NewRouter()
	router.Use(withRequestID)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/v1/models", s.handleListModels).Methods(http.MethodGet)
	router.HandleFunc("/v1/pipelines", s.handleListPipelines).Methods(http.MethodGet)
	router.HandleFunc("/v1/predict", withRateLimit(limiter, s.handlePredict)).Methods(http.MethodPost)
	router.HandleFunc("/v1/events", s.handleEvents).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Hub exposes the lifecycle-event broadcaster so a Poller can publish
// model/pipeline state changes as they are applied.
func (s *Server) Hub() *Hub { return s.hub }

// Serve starts the event hub and blocks in ListenAndServe until the
// server is shut down; returns http.ErrServerClosed on a clean Shutdown.
func (s *Server) Serve() error {
	go s.hub.Run(s.hubDone)
	s.logger.Info("transport: listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and the event hub, following
// the teacher's cmd/server/main.go 30s-timeout shutdown sequence.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.hubDone)
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, httpCode int, err error) {
	writeJSON(w, httpCode, errorBody{Code: string(status.CodeOf(err)), Message: err.Error()})
}

// httpStatusForEngineError maps an EngineError's Class (§7's taxonomy) to
// an HTTP status: caller errors are 400, transient unavailability is 503
// (retry later), permanent unavailability is 410, backend failures are 500.
func httpStatusForEngineError(err error) int {
	code := status.CodeOf(err)
	switch code.Class() {
	case status.ClassTransient:
		return http.StatusServiceUnavailable
	case status.ClassPermanent:
		return http.StatusGone
	case status.ClassBackend:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
