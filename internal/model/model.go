// Package model defines the core domain types shared across fundtrack.
// All monetary values use shopspring/decimal, never float64 for money.
// Rates are fractions: 0.05 means +5%.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ungrouped is the group key used for positions without a group.
const Ungrouped = ""

// DefaultGroupColor is assigned to groups created without a color.
const DefaultGroupColor = "#1890ff"

// Fund is a subscribed fund and its latest price snapshot. Only the price
// feed mutates the price fields; the valuation engine reads them.
type Fund struct {
	Code         string          `json:"code" db:"code"`
	Name         string          `json:"name" db:"name"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"` // estimated NAV, falls back to NAV
	ChangeRate   decimal.Decimal `json:"change_rate" db:"change_rate"`     // vs. prior close
	NAV          decimal.Decimal `json:"nav" db:"nav"`                     // last published NAV
	NAVDate      string          `json:"nav_date,omitempty" db:"nav_date"` // YYYY-MM-DD
	LastUpdated  time.Time       `json:"last_updated" db:"last_updated"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position is one aggregated lot per (fund code, group name).
type Position struct {
	ID        string          `json:"id" db:"id"`
	FundCode  string          `json:"fund_code" db:"fund_code"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	CostPrice decimal.Decimal `json:"cost_price" db:"cost_price"` // average cost per share
	GroupName string          `json:"group_name" db:"group_name"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Group is a user-defined label positions are aggregated by. Positions
// refer to it by name only.
type Group struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Color     string    `json:"color" db:"color"`
	SortOrder int       `json:"sort_order" db:"sort_order"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EstimatePoint is one recorded price observation for a fund.
type EstimatePoint struct {
	FundCode   string          `json:"fund_code"`
	Price      decimal.Decimal `json:"price"`
	ChangeRate decimal.Decimal `json:"change_rate"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Quote is what the price feed reports for one fund.
type Quote struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	NAV         decimal.Decimal `json:"nav"`
	NAVDate     string          `json:"nav_date"`
	Estimate    decimal.Decimal `json:"estimate"`
	Price       decimal.Decimal `json:"price"`       // Estimate when positive, else NAV
	ChangeRate  decimal.Decimal `json:"change_rate"` // fraction
	EstimatedAt time.Time       `json:"estimated_at"` // feed's estimate timestamp, zero when absent
	At          time.Time       `json:"fetched_at"`   // when the quote was fetched
}

// Settings are the user-editable runtime settings.
type Settings struct {
	RefreshInterval int    `json:"refresh_interval"` // seconds, 10..3600
	LogLevel        string `json:"log_level"`
}

// Snapshot is a consistent read of everything the engine needs.
type Snapshot struct {
	Funds     map[string]Fund
	Positions []Position
	Groups    []Group
}

// Metrics is the metric set shared by positions, groups and the portfolio.
type Metrics struct {
	Value         decimal.Decimal `json:"value"`
	Cost          decimal.Decimal `json:"cost"`
	Gain          decimal.Decimal `json:"gain"`
	GainRate      decimal.Decimal `json:"gain_rate"`
	DailyGain     decimal.Decimal `json:"daily_gain"`
	DailyGainRate decimal.Decimal `json:"daily_gain_rate"`
}

// ValuedPosition is a Position joined with its fund's price at computation
// time. Derived, never persisted.
type ValuedPosition struct {
	Position
	FundName     string          `json:"fund_name"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	ChangeRate   decimal.Decimal `json:"change_rate"`
	PriceAsOf    time.Time       `json:"price_as_of"`
	// PriceAgeSeconds is nil for a fund that was never priced.
	PriceAgeSeconds *int64 `json:"price_age_seconds"`
	Metrics
	Weight decimal.Decimal `json:"weight"`
	Stale  bool            `json:"stale"`
}

// GroupSummary aggregates the valued positions sharing a group key.
type GroupSummary struct {
	GroupName     string `json:"group_name"`
	Color         string `json:"color,omitempty"`
	PositionCount int    `json:"position_count"`
	Metrics
	Weight decimal.Decimal `json:"weight"`
}

// PortfolioSummary aggregates every position. Groups is only populated when
// the summary was built from group summaries.
type PortfolioSummary struct {
	Metrics
	PositionCount int            `json:"position_count"`
	Groups        []GroupSummary `json:"groups,omitempty"`
}

// Report is the full valuation of a snapshot, as served over HTTP and
// pushed over WebSocket.
type Report struct {
	AsOf            time.Time        `json:"as_of"`
	RefreshInterval int              `json:"refresh_interval"`
	Positions       []ValuedPosition `json:"positions"`
	Groups          []GroupSummary   `json:"groups"`
	Summary         PortfolioSummary `json:"summary"`
	StaleFunds      []string         `json:"stale_funds"`
}

// RefreshResult describes one price refresh cycle.
type RefreshResult struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Funds     int       `json:"funds"`
	Updated   int       `json:"updated"`
	Failed    []string  `json:"failed"`
}
