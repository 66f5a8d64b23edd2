package valuation

import (
	"sort"
	"time"

	"github.com/fundnet/fundtrack/internal/freshness"
	"github.com/fundnet/fundtrack/internal/model"
)

// Engine values a whole snapshot under a freshness policy. It holds no
// mutable state; one Engine can serve concurrent callers.
type Engine struct {
	policy freshness.Policy
}

// NewEngine creates an engine for the given refresh interval in seconds.
func NewEngine(refreshInterval int) (*Engine, error) {
	p, err := freshness.NewPolicy(refreshInterval)
	if err != nil {
		return nil, err
	}
	return &Engine{policy: p}, nil
}

// Report values every position in the snapshot at now: positions in
// snapshot order with weights and stale flags, groups in first-seen order
// with weights and colors, and the portfolio totals.
//
// Stale prices are still used for valuation; they are only flagged.
func (e *Engine) Report(snap model.Snapshot, now time.Time) (*model.Report, error) {
	valued, err := ValuateAll(snap.Positions, snap.Funds)
	if err != nil {
		return nil, err
	}

	staleSet := make(map[string]bool)
	for i := range valued {
		if asOf := valued[i].PriceAsOf; !asOf.IsZero() {
			age := int64(e.policy.Age(asOf, now) / time.Second)
			valued[i].PriceAgeSeconds = &age
		}
		if !e.policy.IsFresh(valued[i].PriceAsOf, now) {
			valued[i].Stale = true
			staleSet[valued[i].FundCode] = true
		}
	}

	summary := Breakdown(valued, ByGroupName)
	colors := make(map[string]string, len(snap.Groups))
	for _, g := range snap.Groups {
		colors[g.Name] = g.Color
	}
	for i := range summary.Groups {
		// Orphaned group names keep an empty color.
		summary.Groups[i].Color = colors[summary.Groups[i].GroupName]
	}

	groups := summary.Groups
	summary.Groups = nil

	stale := make([]string, 0, len(staleSet))
	for code := range staleSet {
		stale = append(stale, code)
	}
	sort.Strings(stale)

	return &model.Report{
		AsOf:            now,
		RefreshInterval: e.policy.Interval(),
		Positions:       WeighPositions(valued, summary.Value),
		Groups:          groups,
		Summary:         summary,
		StaleFunds:      stale,
	}, nil
}
