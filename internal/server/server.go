// Package server exposes the workout-session engine to the UI layer
// over HTTP.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/claude/liftlog/internal/engine"
	"github.com/claude/liftlog/internal/outbox"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	engine *engine.Engine
	queue  *outbox.Queue
	log    *slog.Logger
	apiKey string
	router chi.Router
}

// New creates a new Server with all routes configured.
func New(eng *engine.Engine, queue *outbox.Queue, apiKey string, log *slog.Logger) *Server {
	s := &Server{
		engine: eng,
		queue:  queue,
		log:    log,
		apiKey: apiKey,
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Route("/api/v1/session", func(r chi.Router) {
		r.Use(APIKeyAuth(s.apiKey))

		r.Get("/", s.handleSessionState)
		r.Post("/select", s.handleSelectWorkout)
		r.Post("/finish", s.handleFinishSession)
		r.Post("/reset", s.handleResetSession)
		r.Post("/sync-template", s.handleSyncTemplate)

		r.Post("/exercises", s.handleAddExercise)
		r.Delete("/exercises/{id}", s.handleRemoveExercise)
		r.Post("/exercises/{id}/substitute", s.handleSubstituteExercise)
		r.Post("/exercises/{id}/complete", s.handleCompleteExercise)

		r.Put("/exercises/{id}/sets/{index}", s.handleEditSet)
		r.Post("/exercises/{id}/sets/{index}/save", s.handleSaveSet)
	})

	s.router.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(APIKeyAuth(s.apiKey))
		r.Get("/", s.handleSyncStatus)
	})
}
