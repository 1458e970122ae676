// Package httpapi exposes the memory daemon's request/response surface:
// add_message, retrieve_memory(/raw), recent_memory(/raw),
// context_pre_retrieve, and health/readiness. The Server/ServeHTTP/
// registerRoutes shape and the method-pattern ServeMux routing follow
// internal/httpapi/{server,handlers}.go; this package is otherwise a fresh
// handler set since the teacher's playground API has no equivalent
// surface.
package httpapi

import (
	"net/http"

	"memoryd/internal/core/orchestrator"
)

// Server exposes HTTP endpoints over an Orchestrator.
type Server struct {
	orch *orchestrator.Orchestrator
	mux  *http.ServeMux
}

// NewServer creates the HTTP API server wired to orch.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	s := &Server{orch: orch, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/memory/{conversationID}/messages", s.handleAddMessage)
	s.mux.HandleFunc("GET /api/v1/memory/{conversationID}/retrieve", s.handleRetrieveMemory)
	s.mux.HandleFunc("GET /api/v1/memory/{conversationID}/retrieve/raw", s.handleRetrieveMemoryRaw)
	s.mux.HandleFunc("GET /api/v1/memory/{conversationID}/recent", s.handleRecentMemory)
	s.mux.HandleFunc("GET /api/v1/memory/{conversationID}/recent/raw", s.handleRecentMemoryRaw)
	s.mux.HandleFunc("GET /api/v1/memory/{conversationID}/context", s.handleContextPreRetrieve)

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
}
