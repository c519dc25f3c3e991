// Package server exposes the turn pipeline and the session/memory stores
// over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/veranda-app/veranda/pkg/repository"
	"github.com/veranda-app/veranda/pkg/usecase/memory"
	"github.com/veranda-app/veranda/pkg/usecase/turn"
)

const requestTimeout = 60 * time.Second

// Server holds the pipeline and store dependencies for the HTTP API.
type Server struct {
	router   *chi.Mux
	turns    *turn.Handler
	memories *memory.Service
	repo     repository.Repository
	apiKeys  map[string]string // bearer token -> owner ID
}

func New(turns *turn.Handler, memories *memory.Service, repo repository.Repository, apiKeys map[string]string) *Server {
	if apiKeys == nil {
		apiKeys = map[string]string{}
	}
	return &Server{
		router:   chi.NewRouter(),
		turns:    turns,
		memories: memories,
		repo:     repo,
		apiKeys:  apiKeys,
	}
}

// Routes returns the configured handler. The chat route keeps the full
// request timeout; everything else is store roundtrips.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))

		r.Post("/api/chat", s.handleChat)

		r.Get("/api/sessions", s.handleSessionList)
		r.Post("/api/sessions/{id}/rename", s.handleSessionRename)
		r.Delete("/api/sessions/{id}", s.handleSessionDelete)

		r.Get("/api/memories", s.handleMemoryList)
		r.Delete("/api/memories/{id}", s.handleMemoryDelete)
	})

	return r
}
