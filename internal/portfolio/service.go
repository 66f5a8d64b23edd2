// Package portfolio provides the HTTP handlers and business logic for
// subscribing to funds, recording positions and groups, and serving the
// valued portfolio.
//
// All monetary values use shopspring/decimal, never float64 for money.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fundnet/fundtrack/internal/config"
	"github.com/fundnet/fundtrack/internal/feed"
	"github.com/fundnet/fundtrack/internal/freshness"
	"github.com/fundnet/fundtrack/internal/model"
	"github.com/fundnet/fundtrack/internal/store"
	"github.com/fundnet/fundtrack/internal/valuation"
)

// Refresher runs price refreshes on demand. Implemented by refresh.Refresher.
type Refresher interface {
	RefreshNow(ctx context.Context) (model.RefreshResult, error)
	RefreshFund(ctx context.Context, code string) error
	SetInterval(seconds int) error
}

// Service handles portfolio operations. Valuation is stateless: every
// read takes a store snapshot and recomputes.
type Service struct {
	store     store.Store
	wsHub     *WSHub // optional WebSocket hub for real-time broadcasts
	refresher Refresher
	feed      feed.Provider
	level     *slog.LevelVar
	now       func() time.Time
	newID     func() string

	mu       sync.RWMutex
	engine   *valuation.Engine
	settings model.Settings
}

// NewService creates a new portfolio service running with the given
// settings. Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, settings model.Settings, hub *WSHub) (*Service, error) {
	engine, err := valuation.NewEngine(settings.RefreshInterval)
	if err != nil {
		return nil, err
	}
	if _, err := config.ParseLogLevel(settings.LogLevel); err != nil {
		return nil, err
	}
	return &Service{
		store:    st,
		wsHub:    hub,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		engine:   engine,
		settings: settings,
	}, nil
}

// SetRefresher attaches the refresher used by POST /refresh and by
// interval changes.
func (s *Service) SetRefresher(r Refresher) {
	s.refresher = r
}

// SetFeed attaches the provider used for live estimates.
func (s *Service) SetFeed(p feed.Provider) {
	s.feed = p
}

// SetLevelVar attaches the logger level that PUT /settings adjusts.
func (s *Service) SetLevelVar(lv *slog.LevelVar) {
	s.level = lv
}

// Routes registers the REST API under r, which is normally mounted at
// /api/v1. The WebSocket endpoint is mounted separately by the caller.
func (s *Service) Routes(r chi.Router) {
	// Fund subscriptions.
	r.Get("/funds", s.ListFunds)
	r.Post("/funds", s.AddFund)
	r.Get("/funds/{code}", s.GetFund)
	r.Put("/funds/{code}", s.UpdateFund)
	r.Delete("/funds/{code}", s.DeleteFund)
	r.Get("/funds/{code}/history", s.GetFundHistory)
	r.Get("/funds/{code}/estimate", s.GetFundEstimate)

	// Groups.
	r.Get("/groups", s.ListGroups)
	r.Post("/groups", s.CreateGroup)
	r.Put("/groups/{groupID}", s.UpdateGroup)
	r.Delete("/groups/{groupID}", s.DeleteGroup)

	// Positions.
	r.Get("/positions", s.ListPositions)
	r.Post("/positions", s.CreatePosition)
	r.Get("/positions/{positionID}", s.GetPosition)
	r.Put("/positions/{positionID}", s.UpdatePosition)
	r.Delete("/positions/{positionID}", s.DeletePosition)

	// Valuation.
	r.Get("/portfolio", s.GetPortfolio)
	r.Get("/portfolio/groups", s.GetPortfolioGroups)

	// Settings and refresh.
	r.Get("/settings", s.GetSettings)
	r.Put("/settings", s.UpdateSettings)
	r.Post("/refresh", s.Refresh)
}

// Settings returns the current runtime settings.
func (s *Service) Settings() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// BuildReport values the current store snapshot.
func (s *Service) BuildReport(ctx context.Context) (*model.Report, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	return engine.Report(snap, s.now().UTC())
}

// publish pushes a fresh valuation after a write. Failures are logged only;
// the write itself already succeeded.
func (s *Service) publish(ctx context.Context) {
	if s.wsHub == nil {
		return
	}
	report, err := s.BuildReport(ctx)
	if err != nil {
		slog.Warn("portfolio publish failed", "err", err)
		return
	}
	s.wsHub.BroadcastReport(report)
}

// --- Portfolio ---

// GetPortfolio handles GET /api/v1/portfolio
// Returns valued positions, group breakdown and totals.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	report, err := s.BuildReport(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetPortfolioGroups handles GET /api/v1/portfolio/groups
// Groups by group name, or by fund with ?by=fund.
func (s *Service) GetPortfolioGroups(w http.ResponseWriter, r *http.Request) {
	report, err := s.BuildReport(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	groups := report.Groups
	switch r.URL.Query().Get("by") {
	case "", "group":
	case "fund":
		groups = valuation.Breakdown(report.Positions, valuation.ByFund).Groups
	default:
		writeError(w, "by must be group or fund", http.StatusBadRequest)
		return
	}
	if groups == nil {
		groups = []model.GroupSummary{}
	}
	writeJSON(w, http.StatusOK, groups)
}

// --- Settings ---

// SettingsRequest is the JSON body for PUT /settings. Omitted fields keep
// their current value.
type SettingsRequest struct {
	RefreshInterval *int    `json:"refresh_interval"`
	LogLevel        *string `json:"log_level"`
}

// GetSettings handles GET /api/v1/settings
func (s *Service) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Settings())
}

// UpdateSettings handles PUT /api/v1/settings
func (s *Service) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	next := s.Settings()
	if req.RefreshInterval != nil {
		next.RefreshInterval = *req.RefreshInterval
	}
	if req.LogLevel != nil {
		next.LogLevel = *req.LogLevel
	}

	if err := s.ApplySettings(r.Context(), next); err != nil {
		if errors.Is(err, freshness.ErrConfigOutOfRange) || errors.Is(err, config.ErrInvalid) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("settings updated", "refresh_interval", next.RefreshInterval, "log_level", next.LogLevel)
	writeJSON(w, http.StatusOK, s.Settings())
}

// ApplySettings validates, persists and activates settings. Nothing
// changes when validation fails.
func (s *Service) ApplySettings(ctx context.Context, next model.Settings) error {
	engine, err := valuation.NewEngine(next.RefreshInterval)
	if err != nil {
		return err
	}
	level, err := config.ParseLogLevel(next.LogLevel)
	if err != nil {
		return err
	}
	next.LogLevel = config.LevelName(level)

	if err := s.store.PutSettings(ctx, next); err != nil {
		return err
	}
	if s.refresher != nil {
		if err := s.refresher.SetInterval(next.RefreshInterval); err != nil {
			return err
		}
	}
	if s.level != nil {
		s.level.Set(level)
	}

	s.mu.Lock()
	s.engine = engine
	s.settings = next
	s.mu.Unlock()
	return nil
}

// --- Refresh ---

// Refresh handles POST /api/v1/refresh
// Runs a price refresh now and returns its outcome.
func (s *Service) Refresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, "price refresh is not configured", http.StatusServiceUnavailable)
		return
	}
	result, err := s.refresher.RefreshNow(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeStoreError maps store sentinels to status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
