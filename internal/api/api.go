// Package api serves the read-only status endpoints of a running pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/session"
	"github.com/andresmejia3/facecam/internal/store"
	"github.com/andresmejia3/facecam/internal/types"
)

// Status is the view of the pipeline the API reads from.
type Status interface {
	State() session.State
	Session() *session.Session
	Identities() []types.Identity
}

// SightingSource lists persisted sightings.
type SightingSource interface {
	RecentSightings(ctx context.Context, limit int) ([]store.Sighting, error)
}

// Server exposes pipeline status over HTTP.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	status     Status
	sightings  SightingSource
	logger     *zap.Logger
}

// NewServer creates the router. sightings may be nil when no database is configured.
func NewServer(addr string, status Status, sightings SightingSource, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	s := &Server{router: r, status: status, sightings: sightings, logger: logger}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Get("/identities", s.handleIdentities)
	r.Get("/results", s.handleResults)
	r.Get("/sightings", s.handleSightings)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type stateResponse struct {
	State   session.State `json:"state"`
	Session string        `json:"session,omitempty"`
	Ticks   uint64        `json:"ticks"`
	Skipped uint64        `json:"skipped"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{State: s.status.State()}
	if sess := s.status.Session(); sess != nil {
		resp.Session = sess.ID.String()
		resp.Ticks = sess.Ticks()
		resp.Skipped = sess.Skipped()
	}
	respondJSON(w, http.StatusOK, resp)
}

type identityResponse struct {
	Label       string `json:"label"`
	Descriptors int    `json:"descriptors"`
	Matchable   bool   `json:"matchable"`
}

func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	ids := s.status.Identities()
	out := make([]identityResponse, 0, len(ids))
	for _, id := range ids {
		out = append(out, identityResponse{
			Label:       id.Label,
			Descriptors: len(id.Descriptors),
			Matchable:   len(id.Descriptors) > 0,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type faceResponse struct {
	Label      string  `json:"label"`
	Outcome    string  `json:"outcome"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
	Box        [4]int  `json:"box"`
}

type resultsResponse struct {
	Seq       uint64         `json:"seq"`
	At        time.Time      `json:"at"`
	ElapsedMS float64        `json:"elapsed_ms"`
	Faces     []faceResponse `json:"faces"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	sess := s.status.Session()
	if sess == nil {
		respondError(w, http.StatusServiceUnavailable, "detection has not started")
		return
	}
	report, ok := sess.Latest()
	if !ok {
		respondJSON(w, http.StatusNoContent, nil)
		return
	}

	resp := resultsResponse{
		Seq:       report.Seq,
		At:        report.At,
		ElapsedMS: float64(report.Elapsed.Microseconds()) / 1000,
		Faces:     make([]faceResponse, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		b := res.Detection.Box
		dist := res.Distance
		// JSON has no infinity
		if math.IsInf(dist, 1) {
			dist = -1
		}
		resp.Faces = append(resp.Faces, faceResponse{
			Label:      res.Label,
			Outcome:    res.Outcome.String(),
			Distance:   dist,
			Confidence: res.Detection.Confidence,
			Box:        [4]int{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y},
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSightings(w http.ResponseWriter, r *http.Request) {
	if s.sightings == nil {
		respondError(w, http.StatusNotFound, "no database configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	out, err := s.sightings.RecentSightings(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list sightings", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list sightings")
		return
	}
	if out == nil {
		out = []store.Sighting{}
	}
	respondJSON(w, http.StatusOK, out)
}
