package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"therapyline/internal/request"
	"therapyline/pkg/interfaces"
	"therapyline/pkg/logger"
)

// HealthChecker reports store health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PresenceStats reports connected-user counts.
type PresenceStats interface {
	GetStats() map[string]int
}

// DispatchStats reports notification dispatch counters.
type DispatchStats interface {
	GetStats() map[string]int64
}

// Options carries the server's collaborators.
type Options struct {
	Engine    *request.Engine
	Directory interfaces.Directory
	Store     HealthChecker
	Presence  PresenceStats
	Dispatch  DispatchStats
	WebSocket http.Handler
	Events    http.Handler
	Limiter   *RateLimiter
	Logger    *logger.Logger
}

// Server is the HTTP surface over the request engine.
// ARCHITECTURAL DISCOVERY: HTTP handling and JSON serialization only; every
// state decision belongs to the engine.
type Server struct {
	engine    *request.Engine
	directory interfaces.Directory
	store     HealthChecker
	presence  PresenceStats
	dispatch  DispatchStats
	limiter   *RateLimiter
	log       *logger.Logger
	router    chi.Router
	startedAt time.Time
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(0, time.Minute)
	}

	s := &Server{
		engine:    opts.Engine,
		directory: opts.Directory,
		store:     opts.Store,
		presence:  opts.Presence,
		dispatch:  opts.Dispatch,
		limiter:   limiter,
		log:       opts.Logger.Named("api"),
		router:    chi.NewRouter(),
		startedAt: time.Now(),
	}

	s.setupRoutes(opts.WebSocket, opts.Events)
	return s
}

func (s *Server) setupRoutes(ws, events http.Handler) {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Group(func(r chi.Router) {
		r.Use(s.accessLog)
		r.Use(jsonMiddleware)
		r.Get("/health", s.healthCheck)

		r.Route("/api/session-requests", func(r chi.Router) {
			r.Use(s.identify)

			r.With(s.requireRole(childSide...), s.rateLimit).Post("/", s.createRequest)
			r.With(s.requireRole(childSide...)).Get("/my", s.getMyRequest)
			r.With(s.requireRole(therapistSide...)).Get("/", s.listActiveRequests)

			r.Route("/{id}", func(r chi.Router) {
				r.With(s.requireRole(childSide...), s.rateLimit).Delete("/", s.cancelRequest)

				r.Group(func(r chi.Router) {
					r.Use(s.requireRole(therapistOnly...), s.rateLimit)
					r.Put("/accept", s.acceptRequest)
					r.Put("/decline", s.declineRequest)
					r.Put("/end", s.endSession)
				})
			})
		})
	})

	// Long-lived delivery channels skip the access log and JSON headers.
	if events != nil {
		r.With(s.identify).Get("/api/events", events.ServeHTTP)
	}
	if ws != nil {
		r.Get("/ws", ws.ServeHTTP)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string           `json:"status"`
	Timestamp   time.Time        `json:"timestamp"`
	Database    string           `json:"database"`
	Connections map[string]int   `json:"connections"`
	Dispatch    map[string]int64 `json:"dispatch"`
	Uptime      string           `json:"uptime"`
}

// healthCheck reports 503 when the store is unreachable.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
	}
	if err := s.store.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "unavailable"
		s.log.Error("Health check failed", logger.Error(err))
	}
	if s.presence != nil {
		resp.Connections = s.presence.GetStats()
	}
	if s.dispatch != nil {
		resp.Dispatch = s.dispatch.GetStats()
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("Failed to write response", logger.Error(err))
	}
}

// writeError renders err using the shared error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Error(err))
	}
	s.writeJSON(w, status, ErrorResponse{Error: code, Code: status, Message: message})
}
