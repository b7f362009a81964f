// Package api exposes the news service over HTTP for the host
// application's UI layer.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"coinfeed/internal/logger"
	"coinfeed/internal/news"
)

// Server routes HTTP requests to the news service.
type Server struct {
	service *news.Service
	log     *logger.Logger
}

// NewServer creates the API server.
func NewServer(service *news.Service, log *logger.Logger) *Server {
	return &Server{service: service, log: log}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/news", s.handleGetNews).Methods(http.MethodGet)
	api.HandleFunc("/news/refresh", s.handleForceRefresh).Methods(http.MethodPost)
	api.HandleFunc("/news/cache", s.handleClearCache).Methods(http.MethodDelete)
	api.HandleFunc("/news/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)

	r.HandleFunc("/healthcheck", s.handleHealthCheck).Methods(http.MethodGet)

	return r
}

// handleGetNews serves the aggregated item set. An absent or zero limit
// means unlimited.
func (s *Server) handleGetNews(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondWithJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = parsed
	}

	items := s.service.GetNews(r.Context(), limit)
	respondWithJSON(w, http.StatusOK, items)
}

// handleForceRefresh drops all cached state and rebuilds from a full
// fetch. Reserved for explicit user-initiated resync.
func (s *Server) handleForceRefresh(w http.ResponseWriter, r *http.Request) {
	items := s.service.ForceRefresh(r.Context())
	respondWithJSON(w, http.StatusOK, items)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearCache(r.Context()); err != nil {
		s.log.Error("clear cache failed: %v", err)
		respondWithJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to clear cache",
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.service.Diagnostics(r.Context()))
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondWithJSON writes a JSON response with the given status code.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
