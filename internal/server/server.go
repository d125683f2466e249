package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"intel_fetcher/internal/domain"
	"intel_fetcher/internal/ingest"
)

// CycleRunner triggers one ingestion cycle for a named source.
type CycleRunner interface {
	SourceID() string
	Run(ctx context.Context) (*domain.CycleSummary, error)
}

// Server is the HTTP trigger surface: fetch-by-source, health and metrics.
type Server struct {
	runners map[string]CycleRunner
	logger  *slog.Logger
	router  *mux.Router
}

func New(runners []CycleRunner, logger *slog.Logger) *Server {
	byID := make(map[string]CycleRunner, len(runners))
	for _, r := range runners {
		byID[r.SourceID()] = r
	}

	s := &Server{
		runners: byID,
		logger:  logger,
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/v1/fetch/{source}", s.handleFetch).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (s *Server) Router() http.Handler {
	return s.router
}

type fetchResponse struct {
	TotalEntries     int  `json:"totalEntries"`
	ProcessedEntries int  `json:"processedEntries"`
	NewOffset        int  `json:"newOffset"`
	HasMore          bool `json:"hasMore"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["source"]

	runner, ok := s.runners[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown source: " + name})
		return
	}

	summary, err := runner.Run(r.Context())
	if errors.Is(err, ingest.ErrCycleInFlight) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("triggered cycle failed", "source", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, fetchResponse{
		TotalEntries:     summary.TotalEntries,
		ProcessedEntries: summary.ProcessedEntries,
		NewOffset:        summary.NewOffset,
		HasMore:          summary.HasMore,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
