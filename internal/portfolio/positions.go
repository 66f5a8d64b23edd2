package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fundnet/fundtrack/internal/fundcode"
	"github.com/fundnet/fundtrack/internal/model"
	"github.com/fundnet/fundtrack/internal/store"
)

// CreatePositionRequest is the JSON body for POST /positions.
type CreatePositionRequest struct {
	FundCode  string          `json:"fund_code"`
	Shares    decimal.Decimal `json:"shares"`
	CostPrice decimal.Decimal `json:"cost_price"` // average cost per share
	GroupName string          `json:"group_name"` // empty = ungrouped
}

// UpdatePositionRequest is the JSON body for PUT /positions/{positionID}.
// Omitted fields keep their current value.
type UpdatePositionRequest struct {
	Shares    *decimal.Decimal `json:"shares"`
	CostPrice *decimal.Decimal `json:"cost_price"`
	GroupName *string          `json:"group_name"`
}

func nonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return fmt.Errorf("%s must not be negative, got %s", field, v)
	}
	return nil
}

// ListPositions handles GET /api/v1/positions
// Returns every position valued at the current fund prices.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	report, err := s.BuildReport(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	positions := report.Positions
	if positions == nil {
		positions = []model.ValuedPosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPosition handles GET /api/v1/positions/{positionID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "positionID")
	report, err := s.BuildReport(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	for _, vp := range report.Positions {
		if vp.ID == id {
			writeJSON(w, http.StatusOK, vp)
			return
		}
	}
	writeError(w, "position not found", http.StatusNotFound)
}

// CreatePosition handles POST /api/v1/positions
// Subscribes to the fund first when needed. One position per
// (fund, group); a second one is a 409.
func (s *Service) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req CreatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	code, err := fundcode.Parse(req.FundCode)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := errors.Join(nonNegative("shares", req.Shares), nonNegative("cost_price", req.CostPrice)); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetFund(ctx, code); errors.Is(err, store.ErrNotFound) {
		if _, err := s.subscribe(r, code, ""); err != nil {
			writeStoreError(w, err)
			return
		}
	} else if err != nil {
		writeStoreError(w, err)
		return
	}

	now := s.now().UTC()
	p := &model.Position{
		ID:        s.newID(),
		FundCode:  code,
		Shares:    req.Shares,
		CostPrice: req.CostPrice,
		GroupName: strings.TrimSpace(req.GroupName),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePosition(ctx, p); err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Info("position created",
		"id", p.ID,
		"fund", p.FundCode,
		"group", p.GroupName,
		"shares", p.Shares.String(),
		"cost_price", p.CostPrice.String(),
	)
	s.publish(ctx)
	writeJSON(w, http.StatusCreated, p)
}

// UpdatePosition handles PUT /api/v1/positions/{positionID}
func (s *Service) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	var req UpdatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	p, err := s.store.GetPosition(ctx, chi.URLParam(r, "positionID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if req.Shares != nil {
		p.Shares = *req.Shares
	}
	if req.CostPrice != nil {
		p.CostPrice = *req.CostPrice
	}
	if req.GroupName != nil {
		p.GroupName = strings.TrimSpace(*req.GroupName)
	}
	if err := errors.Join(nonNegative("shares", p.Shares), nonNegative("cost_price", p.CostPrice)); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.UpdatedAt = s.now().UTC()

	if err := s.store.UpdatePosition(ctx, p); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("position updated", "id", p.ID, "shares", p.Shares.String(), "group", p.GroupName)
	s.publish(ctx)
	writeJSON(w, http.StatusOK, p)
}

// DeletePosition handles DELETE /api/v1/positions/{positionID}
func (s *Service) DeletePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "positionID")
	ctx := r.Context()
	if err := s.store.DeletePosition(ctx, id); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("position deleted", "id", id)
	s.publish(ctx)
	w.WriteHeader(http.StatusNoContent)
}
