package server

import (
	"bulletin/internal/core"
	"bulletin/internal/persistence"
	"bulletin/internal/pipeline"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// HealthResponse is the body of /health
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ArticleListResponse is the body of GET /api/articles
type ArticleListResponse struct {
	Articles []core.Item `json:"articles"`
	Total    int         `json:"total"`
}

// RankingListResponse is the body of GET /api/rankings
type RankingListResponse struct {
	Rankings []core.Ranking `json:"rankings"`
	Total    int            `json:"total"`
}

// DigestListResponse is the body of GET /api/digests
type DigestListResponse struct {
	Digests []core.DailyDigest `json:"digests"`
	Total   int                `json:"total"`
}

// handleHealth handles the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.db.Ping(r.Context()); err != nil {
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Checks: checks,
		})
		return
	}

	checks["database"] = "ok"

	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Checks: checks,
	})
}

// handleRefresh handles GET|POST /api/cron/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// A dropped client connection must not abort a run halfway.
	ctx := context.WithoutCancel(r.Context())

	manifest, err := s.refresher.Run(ctx)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.log.Error("Refresh run failed to start", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Refresh failed")
		return
	}

	s.respondJSON(w, http.StatusOK, manifest)
}

// handleListArticles handles GET /api/articles?source=&included=&limit=
func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}

	filter := persistence.ItemFilter{Newest: true, Limit: limit}
	if r.URL.Query().Get("included") == "true" {
		filter.Included = true
	}

	items, err := s.db.Items().List(r.Context(), r.URL.Query().Get("source"), filter)
	if err != nil {
		s.log.Error("Failed to list articles", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to list articles")
		return
	}
	if items == nil {
		items = []core.Item{}
	}

	s.respondJSON(w, http.StatusOK, ArticleListResponse{Articles: items, Total: len(items)})
}

// handleListRankings handles GET /api/rankings?source=&date=&limit=
func (s *Server) handleListRankings(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}

	filter := persistence.RankingFilter{Newest: true, Limit: limit}
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, err := core.ParseDate(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Date = date
	}

	rankings, err := s.db.Rankings().List(r.Context(), r.URL.Query().Get("source"), filter)
	if err != nil {
		s.log.Error("Failed to list rankings", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to list rankings")
		return
	}
	if rankings == nil {
		rankings = []core.Ranking{}
	}

	s.respondJSON(w, http.StatusOK, RankingListResponse{Rankings: rankings, Total: len(rankings)})
}

// handleListDigests handles GET /api/digests?limit=
func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}

	digests, err := s.db.Digests().Latest(r.Context(), limit)
	if err != nil {
		s.log.Error("Failed to list digests", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to list digests")
		return
	}
	if digests == nil {
		digests = []core.DailyDigest{}
	}

	s.respondJSON(w, http.StatusOK, DigestListResponse{Digests: digests, Total: len(digests)})
}

// handleLatestDigest handles GET /api/digests/latest
func (s *Server) handleLatestDigest(w http.ResponseWriter, r *http.Request) {
	digests, err := s.db.Digests().Latest(r.Context(), 1)
	if err != nil {
		s.log.Error("Failed to get latest digest", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to get latest digest")
		return
	}
	if len(digests) == 0 {
		s.respondError(w, http.StatusNotFound, "No digests found")
		return
	}

	s.respondJSON(w, http.StatusOK, digests[0])
}

// handleGetDigest handles GET /api/digests/{date}
func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	date, err := core.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := s.db.Digests().GetByDate(r.Context(), date)
	if errors.Is(err, persistence.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "Digest not found")
		return
	}
	if err != nil {
		s.log.Error("Failed to get digest", "date", date, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to get digest")
		return
	}

	s.respondJSON(w, http.StatusOK, d)
}

// parseLimit reads ?limit=, writing a 400 and returning false when invalid.
func (s *Server) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"status":  status,
			"message": message,
		},
	})
}
