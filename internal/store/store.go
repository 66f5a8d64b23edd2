// Package store defines the persistence interface for fundtrack.
// Implementations include SQLite (local default), PostgreSQL, a Redis
// read-through cache wrapper, and in-memory (for testing).
//
// Stores hold source records only: funds, positions, groups, estimate
// history and settings. Valuations are always recomputed from a Snapshot.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundnet/fundtrack/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write would violate a uniqueness or
	// reference constraint.
	ErrConflict = errors.New("store: conflict")

	// ErrCorrupt is returned when a stored column cannot be decoded.
	ErrCorrupt = errors.New("store: corrupt record")
)

// Store is the persistence interface.
type Store interface {
	// --- Funds ---

	// UpsertFund creates a fund or, when fund.Name is set, renames it.
	// Price fields of an existing fund are left untouched.
	UpsertFund(ctx context.Context, fund *model.Fund) error

	// GetFund retrieves a fund by code.
	GetFund(ctx context.Context, code string) (*model.Fund, error)

	// ListFunds returns all subscribed funds ordered by code.
	ListFunds(ctx context.Context) ([]model.Fund, error)

	// DeleteFund removes a fund. Fails with ErrConflict while positions
	// still reference it.
	DeleteFund(ctx context.Context, code string) error

	// UpdateFundQuote stores the latest price data from the feed. The
	// quote's name is only used while the fund has none.
	UpdateFundQuote(ctx context.Context, q model.Quote) error

	// --- Positions ---

	// CreatePosition persists a new position. Fails with ErrConflict when
	// a position for the same (fund code, group name) exists.
	CreatePosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// ListPositions returns all positions in creation order.
	ListPositions(ctx context.Context) ([]model.Position, error)

	// UpdatePosition updates shares, cost price and group of a position.
	UpdatePosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes a position.
	DeletePosition(ctx context.Context, id string) error

	// --- Groups ---

	// CreateGroup persists a new group. Names are unique.
	CreateGroup(ctx context.Context, g *model.Group) error

	// ListGroups returns groups by sort order, then name.
	ListGroups(ctx context.Context) ([]model.Group, error)

	// UpdateGroup updates name, color and sort order. Positions are not
	// relabeled.
	UpdateGroup(ctx context.Context, g *model.Group) error

	// DeleteGroup removes a group. Positions keep the name.
	DeleteGroup(ctx context.Context, id string) error

	// --- Estimate history ---

	// InsertEstimate appends a price observation.
	InsertEstimate(ctx context.Context, p model.EstimatePoint) error

	// GetEstimateHistory returns the latest limit observations for a fund,
	// oldest first.
	GetEstimateHistory(ctx context.Context, code string, limit int) ([]model.EstimatePoint, error)

	// --- Settings ---

	// GetSettings returns the stored settings. ok is false when nothing
	// has been stored yet.
	GetSettings(ctx context.Context) (s model.Settings, ok bool, err error)

	// PutSettings stores settings.
	PutSettings(ctx context.Context, s model.Settings) error

	// --- Valuation input ---

	// Snapshot reads funds, positions and groups at a single point in time.
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

// DefaultGroups are created on first start, as FundNet seeded its sectors.
var DefaultGroups = []string{
	"科技", "医疗", "新能源", "QDII", "消费", "金融", "军工", "半导体", "互联网", "房地产",
}

// SeedGroups creates DefaultGroups when the store has no groups at all.
func SeedGroups(ctx context.Context, st Store, newID func() string) (int, error) {
	existing, err := st.ListGroups(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i, name := range DefaultGroups {
		g := &model.Group{
			ID:        newID(),
			Name:      name,
			Color:     model.DefaultGroupColor,
			SortOrder: i,
			CreatedAt: now,
		}
		if err := st.CreateGroup(ctx, g); err != nil {
			return i, err
		}
	}
	return len(DefaultGroups), nil
}

// applyQuote copies feed data onto a fund record. A name the user set is
// kept.
func applyQuote(f *model.Fund, q model.Quote) {
	if f.Name == "" {
		f.Name = q.Name
	}
	f.CurrentPrice = q.Price
	f.ChangeRate = q.ChangeRate
	f.NAV = q.NAV
	f.NAVDate = q.NAVDate
	f.LastUpdated = q.At
}

// newSnapshot indexes funds by code.
func newSnapshot(funds []model.Fund, positions []model.Position, groups []model.Group) model.Snapshot {
	byCode := make(map[string]model.Fund, len(funds))
	for _, f := range funds {
		byCode[f.Code] = f
	}
	return model.Snapshot{Funds: byCode, Positions: positions, Groups: groups}
}

const (
	settingRefreshInterval = "refresh_interval"
	settingLogLevel        = "log_level"
)

// settingsToKV flattens settings into the key/value rows of the settings table.
func settingsToKV(s model.Settings) map[string]string {
	return map[string]string{
		settingRefreshInterval: strconv.Itoa(s.RefreshInterval),
		settingLogLevel:        s.LogLevel,
	}
}

func settingsFromKV(kv map[string]string) (model.Settings, bool, error) {
	if len(kv) == 0 {
		return model.Settings{}, false, nil
	}
	var s model.Settings
	if v, ok := kv[settingRefreshInterval]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return model.Settings{}, false, fmt.Errorf("settings: %s=%q: %w", settingRefreshInterval, v, err)
		}
		s.RefreshInterval = n
	}
	s.LogLevel = kv[settingLogLevel]
	return s, true, nil
}

// columnDecoder converts text columns of one row and keeps the first
// failure, so scanners can decode every column and check once.
type columnDecoder struct {
	err error
}

// decimal reads a NUMERIC/TEXT column. Empty reads as zero.
func (c *columnDecoder) decimal(column, s string) decimal.Decimal {
	if s == "" || c.err != nil {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		c.err = fmt.Errorf("%w: %s %q is not a decimal", ErrCorrupt, column, s)
		return decimal.Zero
	}
	return v
}

// time reads a timestamp stored as RFC 3339 text. Empty reads as zero.
func (c *columnDecoder) time(column, s string) time.Time {
	if s == "" || c.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		c.err = fmt.Errorf("%w: %s %q is not a timestamp", ErrCorrupt, column, s)
		return time.Time{}
	}
	return t
}
