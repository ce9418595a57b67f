// Package api provides the HTTP handlers exposing the aggregation engine:
// single-wallet portfolio and positions, market metrics, and leaderboards.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oddsight/pnl-engine/internal/cache"
	"github.com/oddsight/pnl-engine/internal/engine"
	"github.com/oddsight/pnl-engine/internal/metrics"
	"github.com/oddsight/pnl-engine/internal/model"
)

// Service wires the engine to HTTP. The report cache is optional; pass nil to
// recompute on every request.
type Service struct {
	engine *engine.Engine
	cache  *cache.ReportCache
}

// NewService creates the HTTP service.
func NewService(eng *engine.Engine, reportCache *cache.ReportCache) *Service {
	return &Service{engine: eng, cache: reportCache}
}

// GetPortfolio handles GET /api/v1/wallets/{address}/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		writeError(w, "address is required", http.StatusBadRequest)
		return
	}

	defer track("wallet_portfolio")()
	report, err := s.engine.WalletPortfolio(r.Context(), address)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("wallet_portfolio").Inc()
		slog.Error("portfolio computation failed", "user", address, "err", err)
		writeError(w, "portfolio computation failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// GetPositions handles GET /api/v1/wallets/{address}/positions
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		writeError(w, "address is required", http.StatusBadRequest)
		return
	}

	defer track("wallet_positions")()
	positions, err := s.engine.WalletPositions(r.Context(), address)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("wallet_positions").Inc()
		slog.Error("positions computation failed", "user", address, "err", err)
		writeError(w, "positions computation failed", http.StatusBadGateway)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	writeJSON(w, http.StatusOK, positions)
}

// GetMarketMetrics handles GET /api/v1/markets/metrics
func (s *Service) GetMarketMetrics(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "report:market-metrics"

	var cached []model.MarketMetrics
	if s.cache.Get(r.Context(), cacheKey, &cached) {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	defer track("market_metrics")()
	result, err := s.engine.MarketMetrics(r.Context())
	if err != nil {
		metrics.FetchErrors.WithLabelValues("market_metrics").Inc()
		slog.Error("market metrics computation failed", "err", err)
		writeError(w, "market metrics computation failed", http.StatusBadGateway)
		return
	}
	if result == nil {
		result = []model.MarketMetrics{}
	}

	s.cache.Set(r.Context(), cacheKey, result)
	writeJSON(w, http.StatusOK, result)
}

// GetLeaderboard handles GET /api/v1/leaderboard?kind={volume|pnl|portfolio}&depth={1..3}
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	kind := engine.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = engine.KindPortfolio
	}

	depth := engine.DepthUser
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 3 {
			writeError(w, "depth must be 1, 2 or 3", http.StatusBadRequest)
			return
		}
		depth = engine.Depth(n)
	}

	cacheKey := fmt.Sprintf("report:leaderboard:%s:%d", kind, depth)
	var cached engine.Board
	if s.cache.Get(r.Context(), cacheKey, &cached) {
		writeJSON(w, http.StatusOK, &cached)
		return
	}

	defer track("leaderboard")()
	board, err := s.engine.Leaderboard(r.Context(), kind, depth)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownKind) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		metrics.FetchErrors.WithLabelValues("leaderboard").Inc()
		slog.Error("leaderboard computation failed", "kind", kind, "err", err)
		writeError(w, "leaderboard computation failed", http.StatusBadGateway)
		return
	}

	s.cache.Set(r.Context(), cacheKey, board)
	writeJSON(w, http.StatusOK, board)
}

// track records one report computation in Prometheus.
func track(op string) func() {
	start := time.Now()
	return func() {
		metrics.ReportsTotal.WithLabelValues(op).Inc()
		metrics.ReportDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
