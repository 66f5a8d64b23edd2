package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/fundnet/fundtrack/internal/model"
	"github.com/fundnet/fundtrack/internal/money"
)

// Summarize folds valued positions straight into portfolio totals. The
// result has no group breakdown.
func Summarize(valued []model.ValuedPosition) model.PortfolioSummary {
	value, cost, daily := decimal.Zero, decimal.Zero, decimal.Zero
	for _, vp := range valued {
		value = value.Add(vp.Value)
		cost = cost.Add(vp.Cost)
		daily = daily.Add(vp.DailyGain)
	}
	return model.PortfolioSummary{
		Metrics:       derive(value, cost, daily),
		PositionCount: len(valued),
	}
}

// SummarizeGroups folds group summaries into portfolio totals and returns
// the groups with their weights filled in. Totals are identical to
// Summarize over the same positions.
func SummarizeGroups(groups []model.GroupSummary) model.PortfolioSummary {
	value, cost, daily := decimal.Zero, decimal.Zero, decimal.Zero
	count := 0
	for _, g := range groups {
		value = value.Add(g.Value)
		cost = cost.Add(g.Cost)
		daily = daily.Add(g.DailyGain)
		count += g.PositionCount
	}

	weighted := make([]model.GroupSummary, len(groups))
	for i, g := range groups {
		g.Weight = money.DivOrZero(g.Value, value)
		weighted[i] = g
	}

	return model.PortfolioSummary{
		Metrics:       derive(value, cost, daily),
		PositionCount: count,
		Groups:        weighted,
	}
}

// Breakdown aggregates by key and summarizes the groups in one step.
func Breakdown(valued []model.ValuedPosition, key KeyFunc) model.PortfolioSummary {
	return SummarizeGroups(Aggregate(valued, key))
}

// WeighPositions returns a copy of valued with each position's share of
// total set. All weights are zero when total is zero.
func WeighPositions(valued []model.ValuedPosition, total decimal.Decimal) []model.ValuedPosition {
	out := make([]model.ValuedPosition, len(valued))
	for i, vp := range valued {
		vp.Weight = money.DivOrZero(vp.Value, total)
		out[i] = vp
	}
	return out
}
