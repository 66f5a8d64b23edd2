package portfolio

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fundnet/fundtrack/internal/feed"
	"github.com/fundnet/fundtrack/internal/fundcode"
	"github.com/fundnet/fundtrack/internal/model"
	"github.com/fundnet/fundtrack/internal/money"
	"github.com/fundnet/fundtrack/internal/valuation"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// AddFundRequest is the JSON body for POST /funds.
type AddFundRequest struct {
	Code string `json:"code"` // 6 digits, optional sh/sz/of prefix
	Name string `json:"name"` // optional; the feed fills it in
}

// ListFunds handles GET /api/v1/funds
func (s *Service) ListFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := s.store.ListFunds(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if funds == nil {
		funds = []model.Fund{}
	}
	writeJSON(w, http.StatusOK, funds)
}

// AddFund handles POST /api/v1/funds
// Subscribes to a fund and fetches its first quote when a refresher is
// attached. A failed first fetch still subscribes; the fund stays stale
// until a refresh succeeds.
func (s *Service) AddFund(w http.ResponseWriter, r *http.Request) {
	var req AddFundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	code, err := fundcode.Parse(req.Code)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fund, err := s.subscribe(r, code, strings.TrimSpace(req.Name))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("fund subscribed", "fund", code, "name", fund.Name)
	s.publish(r.Context())
	writeJSON(w, http.StatusCreated, fund)
}

// UpdateFundRequest is the JSON body for PUT /funds/{code}.
type UpdateFundRequest struct {
	Name string `json:"name"`
}

// UpdateFund handles PUT /api/v1/funds/{code}
// Renames a subscribed fund. Later quotes do not overwrite the name.
func (s *Service) UpdateFund(w http.ResponseWriter, r *http.Request) {
	code, ok := codeParam(w, r)
	if !ok {
		return
	}
	var req UpdateFundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetFund(ctx, code); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.UpsertFund(ctx, &model.Fund{Code: code, Name: name}); err != nil {
		writeStoreError(w, err)
		return
	}
	fund, err := s.store.GetFund(ctx, code)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("fund renamed", "fund", code, "name", name)
	s.publish(ctx)
	writeJSON(w, http.StatusOK, fund)
}

// EstimateResponse is the body of GET /funds/{code}/estimate. Position is
// set only when shares were given.
type EstimateResponse struct {
	Quote    model.Quote           `json:"quote"`
	Position *model.ValuedPosition `json:"position,omitempty"`
}

// GetFundEstimate handles GET /api/v1/funds/{code}/estimate?shares=N&cost_price=P
// Asks the feed for a live quote without storing it. With shares, the
// response also values a hypothetical lot at that quote.
func (s *Service) GetFundEstimate(w http.ResponseWriter, r *http.Request) {
	code, ok := codeParam(w, r)
	if !ok {
		return
	}
	if s.feed == nil {
		writeError(w, "price feed is not configured", http.StatusServiceUnavailable)
		return
	}

	var shares, cost decimal.Decimal
	whatIf := false
	q := r.URL.Query()
	if raw := q.Get("shares"); raw != "" {
		v, err := money.ParseNonNegative("shares", raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		shares, whatIf = v, true
	}
	if raw := q.Get("cost_price"); raw != "" {
		if !whatIf {
			writeError(w, "cost_price requires shares", http.StatusBadRequest)
			return
		}
		v, err := money.ParseNonNegative("cost_price", raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		cost = v
	}

	quote, err := s.feed.Quote(r.Context(), code)
	if err != nil {
		writeFeedError(w, code, err)
		return
	}
	resp := EstimateResponse{Quote: quote}
	if whatIf {
		vp, err := valuation.Valuate(
			model.Position{FundCode: code, Shares: shares, CostPrice: cost},
			model.Fund{Code: code, Name: quote.Name, CurrentPrice: quote.Price, ChangeRate: quote.ChangeRate, LastUpdated: quote.At},
		)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}
		resp.Position = &vp
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeFeedError maps feed sentinels to status codes.
func writeFeedError(w http.ResponseWriter, code string, err error) {
	switch {
	case errors.Is(err, feed.ErrUnknownFund):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		slog.Warn("live estimate failed", "fund", code, "err", err)
		writeError(w, err.Error(), http.StatusBadGateway)
	}
}

// subscribe upserts the fund and tries to price it right away.
func (s *Service) subscribe(r *http.Request, code, name string) (*model.Fund, error) {
	ctx := r.Context()
	if err := s.store.UpsertFund(ctx, &model.Fund{Code: code, Name: name, CreatedAt: s.now().UTC()}); err != nil {
		return nil, err
	}
	if s.refresher != nil {
		if err := s.refresher.RefreshFund(ctx, code); err != nil {
			slog.Warn("first quote failed", "fund", code, "err", err)
		}
	}
	return s.store.GetFund(ctx, code)
}

// GetFund handles GET /api/v1/funds/{code}
func (s *Service) GetFund(w http.ResponseWriter, r *http.Request) {
	code, ok := codeParam(w, r)
	if !ok {
		return
	}
	fund, err := s.store.GetFund(r.Context(), code)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fund)
}

// DeleteFund handles DELETE /api/v1/funds/{code}
// Refused with 409 while any position holds the fund.
func (s *Service) DeleteFund(w http.ResponseWriter, r *http.Request) {
	code, ok := codeParam(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteFund(r.Context(), code); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("fund unsubscribed", "fund", code)
	w.WriteHeader(http.StatusNoContent)
}

// GetFundHistory handles GET /api/v1/funds/{code}/history?limit=N
// Returns recorded price observations, oldest first.
func (s *Service) GetFundHistory(w http.ResponseWriter, r *http.Request) {
	code, ok := codeParam(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	ctx := r.Context()
	if _, err := s.store.GetFund(ctx, code); err != nil {
		writeStoreError(w, err)
		return
	}
	points, err := s.store.GetEstimateHistory(ctx, code, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if points == nil {
		points = []model.EstimatePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func codeParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	code, err := fundcode.Parse(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return code, true
}
