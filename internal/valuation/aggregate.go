package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/fundnet/fundtrack/internal/model"
	"github.com/fundnet/fundtrack/internal/money"
)

// KeyFunc picks the group key of a valued position.
type KeyFunc func(model.ValuedPosition) string

// ByGroupName groups by the position's group name. Ungrouped positions land
// under model.Ungrouped.
func ByGroupName(vp model.ValuedPosition) string {
	return vp.GroupName
}

// ByFund groups by fund code, folding lots of the same fund held in
// different groups together.
func ByFund(vp model.ValuedPosition) string {
	return vp.FundCode
}

// Aggregate folds valued positions into one summary per distinct key, in
// the order keys are first seen. A nil key defaults to ByGroupName.
// Weights are left at zero; SummarizeGroups fills them in.
func Aggregate(valued []model.ValuedPosition, key KeyFunc) []model.GroupSummary {
	if key == nil {
		key = ByGroupName
	}

	index := make(map[string]int)
	var groups []model.GroupSummary

	for _, vp := range valued {
		k := key(vp)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, model.GroupSummary{
				GroupName: k,
				Metrics:   zeroMetrics(),
			})
		}
		g := &groups[i]
		g.PositionCount++
		g.Value = g.Value.Add(vp.Value)
		g.Cost = g.Cost.Add(vp.Cost)
		g.DailyGain = g.DailyGain.Add(vp.DailyGain)
	}

	for i := range groups {
		groups[i].Metrics = derive(groups[i].Value, groups[i].Cost, groups[i].DailyGain)
		groups[i].Weight = decimal.Zero
	}
	return groups
}

// derive fills in gain and the rates from the three summed quantities.
// Used at group and portfolio scope so both apply the same formulas.
func derive(value, cost, dailyGain decimal.Decimal) model.Metrics {
	gain := value.Sub(cost)
	return model.Metrics{
		Value:         value,
		Cost:          cost,
		Gain:          gain,
		GainRate:      money.DivOrZero(gain, cost),
		DailyGain:     dailyGain,
		DailyGainRate: money.RatioIfPositive(dailyGain, value.Sub(dailyGain)),
	}
}

func zeroMetrics() model.Metrics {
	return model.Metrics{
		Value:         decimal.Zero,
		Cost:          decimal.Zero,
		Gain:          decimal.Zero,
		GainRate:      decimal.Zero,
		DailyGain:     decimal.Zero,
		DailyGainRate: decimal.Zero,
	}
}
