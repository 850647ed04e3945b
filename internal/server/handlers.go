package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/dealradar/internal/store"
)

const maxDealsLimit = 100

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "dealradar",
		"version": "1.0",
		"endpoints": []map[string]string{
			{"path": "/api/listing/{ad_id}", "method": "GET", "description": "Fetch a single listing by ad id", "example": "/api/listing/1213746529"},
			{"path": "/api/search", "method": "GET", "description": "Newest listings in a category; params: category (required), limit", "example": "/api/search?category=5021&limit=10"},
			{"path": "/api/deals", "method": "GET", "description": "Evaluated deals at or above a score; params: min_score, limit", "example": "/api/deals?min_score=8&limit=20"},
			{"path": "/api/stats", "method": "GET", "description": "Listing and evaluation statistics"},
			{"path": "/api/requests", "method": "GET", "description": "Active deal requests with subscriber and match counts"},
			{"path": "/health", "method": "GET", "description": "Health check"},
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(store.Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			zap.L().Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "service": "dealradar"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "dealradar"})
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	adID := chi.URLParam(r, "adID")
	listing, err := s.source.Get(r.Context(), adID)
	if err != nil {
		zap.L().Error("fetch listing failed", zap.String("ad_id", adID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "listing source unavailable")
		return
	}
	if listing == nil {
		writeError(w, http.StatusNotFound, "Listing not found or could not be fetched")
		return
	}
	writeData(w, listing)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := strings.TrimSpace(q.Get("category"))
	if category == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameter: category")
		return
	}
	limit, ok := intParam(q.Get("limit"), s.opts.DefaultSearchLimit)
	if !ok || limit < 1 || limit > s.opts.MaxSearchLimit {
		writeError(w, http.StatusBadRequest, "Limit must be between 1 and "+strconv.Itoa(s.opts.MaxSearchLimit))
		return
	}

	categoryID := s.opts.ResolveCategory(category)
	res, err := s.source.Search(r.Context(), categoryID, limit)
	if err != nil {
		zap.L().Error("search failed", zap.String("category", categoryID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "listing source unavailable")
		return
	}
	if len(res.Listings) == 0 {
		writeError(w, http.StatusNotFound, "No listings found for this category")
		return
	}
	writeData(w, map[string]any{
		"total_fetched":   len(res.Listings),
		"category":        categoryID,
		"requested_limit": limit,
		"listings":        res.Listings,
	})
}

func (s *Server) handleDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minScore := s.opts.HighValueThreshold
	if raw := q.Get("min_score"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 1 || v > 10 {
			writeError(w, http.StatusBadRequest, "min_score must be a number between 1 and 10")
			return
		}
		minScore = v
	}
	limit, ok := intParam(q.Get("limit"), 20)
	if !ok || limit < 1 || limit > maxDealsLimit {
		writeError(w, http.StatusBadRequest, "Limit must be between 1 and "+strconv.Itoa(maxDealsLimit))
		return
	}

	deals, err := s.store.HighValueDeals(r.Context(), minScore, limit)
	if err != nil {
		zap.L().Error("list deals failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list deals")
		return
	}
	writeData(w, map[string]any{
		"min_score": minScore,
		"count":     len(deals),
		"deals":     deals,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), s.opts.HighValueThreshold)
	if err != nil {
		zap.L().Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeData(w, stats)
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.store.ListActiveRequests(r.Context(), s.now())
	if err != nil {
		zap.L().Error("list requests failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	writeData(w, map[string]any{
		"count":    len(reqs),
		"requests": reqs,
	})
}

// intParam parses raw, returning def for an empty value.
func intParam(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
