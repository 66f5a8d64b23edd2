package valuation

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundnet/fundtrack/internal/model"
)

// d is a test helper for creating decimals from strings.
func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var tolerance = d("0.000000001")

func assertDecimal(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, got.Equal(d(want)), "%s: expected %s, got %s", field, want, got)
}

func assertClose(t *testing.T, want, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, got.Sub(want).Abs().LessThanOrEqual(tolerance), "%s: expected %s, got %s", field, want, got)
}

func pos(id, code, shares, cost, group string) model.Position {
	return model.Position{ID: id, FundCode: code, Shares: d(shares), CostPrice: d(cost), GroupName: group}
}

func fund(code, price, change string) model.Fund {
	return model.Fund{Code: code, Name: "Fund " + code, CurrentPrice: d(price), ChangeRate: d(change)}
}

// --- Position valuator ---

func TestValuate_BasicPosition(t *testing.T) {
	vp, err := Valuate(pos("p1", "000001", "1000", "1.2000", "A"), fund("000001", "1.3000", "0.05"))
	require.NoError(t, err)

	assertDecimal(t, "1200", vp.Cost, "cost")
	assertDecimal(t, "1300", vp.Value, "value")
	assertDecimal(t, "100", vp.Gain, "gain")
	assert.Equal(t, "0.0833", vp.GainRate.Round(4).String())
	assertDecimal(t, "0.05", vp.DailyGainRate, "daily_gain_rate")

	// 1300 - 1300/1.05
	assertClose(t, d("61.904761904761905"), vp.DailyGain, "daily_gain")
	assert.Equal(t, "Fund 000001", vp.FundName)
	assert.Equal(t, "A", vp.GroupName)
}

func TestValuate_ZeroCostBasis(t *testing.T) {
	for _, price := range []string{"0", "1.5", "99.9999"} {
		vp, err := Valuate(pos("p2", "000002", "500", "0", ""), fund("000002", price, "0.01"))
		require.NoError(t, err)

		assert.True(t, vp.Cost.IsZero(), "cost should be zero")
		assert.True(t, vp.GainRate.IsZero(), "gain_rate should be zero for price %s, got %s", price, vp.GainRate)
	}
}

func TestValuate_UnpricedFund(t *testing.T) {
	vp, err := Valuate(pos("p3", "000003", "100", "2", "A"), model.Fund{Code: "000003"})
	require.NoError(t, err)

	assert.True(t, vp.Value.IsZero())
	assertDecimal(t, "-200", vp.Gain, "gain")
	assertDecimal(t, "-1", vp.GainRate, "gain_rate")
	assert.True(t, vp.DailyGain.IsZero())
}

func TestValuate_UnpricedFundWithoutCost(t *testing.T) {
	vp, err := Valuate(pos("p4", "000004", "100", "0", ""), model.Fund{Code: "000004"})
	require.NoError(t, err)

	for name, v := range map[string]decimal.Decimal{
		"value": vp.Value, "cost": vp.Cost, "gain": vp.Gain,
		"gain_rate": vp.GainRate, "daily_gain": vp.DailyGain,
	} {
		assert.True(t, v.IsZero(), "%s should be zero, got %s", name, v)
	}
}

func TestValuate_ChangeRateMinusOne(t *testing.T) {
	vp, err := Valuate(pos("p5", "000005", "10", "1", ""), fund("000005", "1", "-1"))
	require.NoError(t, err)
	assert.True(t, vp.DailyGain.IsZero())
}

func TestValuate_NegativeChange(t *testing.T) {
	vp, err := Valuate(pos("p6", "000006", "1000", "1", ""), fund("000006", "0.95", "-0.05"))
	require.NoError(t, err)

	// 950 - 950/0.95 = -50
	assertClose(t, d("-50"), vp.DailyGain, "daily_gain")
}

func TestValuate_CodeMismatch(t *testing.T) {
	_, err := Valuate(pos("p7", "000007", "1", "1", ""), fund("000008", "1", "0"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "p7")
	assert.Contains(t, err.Error(), "000007")
}

func TestValuate_NegativeInputs(t *testing.T) {
	tests := []struct {
		name string
		p    model.Position
		f    model.Fund
	}{
		{"shares", pos("p8", "000009", "-1", "1", ""), fund("000009", "1", "0")},
		{"cost", pos("p9", "000009", "1", "-1", ""), fund("000009", "1", "0")},
		{"price", pos("p10", "000009", "1", "1", ""), fund("000009", "-0.1", "0")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Valuate(tt.p, tt.f)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), "000009")
		})
	}
}

func TestValuateAll_MissingFundUsesPlaceholder(t *testing.T) {
	funds := map[string]model.Fund{"000001": fund("000001", "1.3", "0")}
	positions := []model.Position{
		pos("a", "000001", "1000", "1.2", "A"),
		pos("b", "999999", "10", "1", "A"),
	}

	valued, err := ValuateAll(positions, funds)
	require.NoError(t, err)
	require.Len(t, valued, 2)
	assert.True(t, valued[1].Value.IsZero())
	assertDecimal(t, "-1", valued[1].GainRate, "gain_rate")
}

func TestValuateAll_FailsOnFirstInvalidRecord(t *testing.T) {
	funds := map[string]model.Fund{"000001": fund("000001", "1", "0")}
	positions := []model.Position{
		pos("ok", "000001", "1", "1", ""),
		pos("bad", "000001", "-5", "1", ""),
		pos("worse", "000001", "1", "-5", ""),
	}

	valued, err := ValuateAll(positions, funds)
	assert.Nil(t, valued, "no partial results")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "bad")
	assert.NotContains(t, err.Error(), "worse")
}

// --- Group aggregator ---

func scenarioThree(t *testing.T) []model.ValuedPosition {
	t.Helper()
	funds := map[string]model.Fund{
		"000001": fund("000001", "1.3", "0.01"),
		"000002": fund("000002", "0.7", "-0.02"),
		"000003": fund("000003", "2", "0.03"),
	}
	positions := []model.Position{
		pos("a1", "000001", "1000", "1.2", "A"),
		pos("b1", "000003", "500", "1.8", "B"),
		pos("a2", "000002", "1000", "0.8", "A"),
	}
	valued, err := ValuateAll(positions, funds)
	require.NoError(t, err)
	return valued
}

func TestAggregate_FirstSeenOrderAndSums(t *testing.T) {
	groups := Aggregate(scenarioThree(t), nil)
	require.Len(t, groups, 2)

	assert.Equal(t, "A", groups[0].GroupName)
	assert.Equal(t, "B", groups[1].GroupName)
	assert.Equal(t, 2, groups[0].PositionCount)

	assertDecimal(t, "2000", groups[0].Value, "A value")
	assertDecimal(t, "2000", groups[0].Cost, "A cost")
	assert.True(t, groups[0].Gain.IsZero())
	assert.True(t, groups[0].GainRate.IsZero())

	assertDecimal(t, "1000", groups[1].Value, "B value")
	assertDecimal(t, "900", groups[1].Cost, "B cost")
	assertDecimal(t, "100", groups[1].Gain, "B gain")
}

func TestAggregate_DailyGainRateRelativeToYesterday(t *testing.T) {
	groups := Aggregate(scenarioThree(t), nil)
	g := groups[1] // single fund at +3%

	// daily_gain / (value - daily_gain) == the fund's change rate.
	assertClose(t, d("0.03"), g.DailyGainRate, "B daily_gain_rate")
}

func TestAggregate_UngroupedPositionsKept(t *testing.T) {
	funds := map[string]model.Fund{"000001": fund("000001", "1", "0")}
	valued, err := ValuateAll([]model.Position{
		pos("x", "000001", "10", "1", "A"),
		pos("y", "000001", "5", "1", model.Ungrouped),
	}, funds)
	require.NoError(t, err)

	groups := Aggregate(valued, ByGroupName)
	require.Len(t, groups, 2)
	assert.Equal(t, model.Ungrouped, groups[1].GroupName)
	assertDecimal(t, "5", groups[1].Value, "ungrouped value")
}

func TestAggregate_ByFund(t *testing.T) {
	funds := map[string]model.Fund{"000001": fund("000001", "2", "0")}
	valued, err := ValuateAll([]model.Position{
		pos("x", "000001", "10", "1", "A"),
		pos("y", "000001", "5", "1", "B"),
	}, funds)
	require.NoError(t, err)

	groups := Aggregate(valued, ByFund)
	require.Len(t, groups, 1)
	assertDecimal(t, "30", groups[0].Value, "value")
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, nil))
	s := SummarizeGroups(nil)
	assert.True(t, s.Value.IsZero())
	assert.Empty(t, s.Groups)
}

func TestAggregate_Idempotent(t *testing.T) {
	valued := randomPortfolio(t, rand.New(rand.NewSource(7)), 40)

	first := Aggregate(valued, nil)
	second := Aggregate(valued, nil)
	require.Len(t, second, len(first))
	for i := range first {
		assertGroupEqual(t, first[i], second[i])
	}
}

func TestAggregate_Completeness(t *testing.T) {
	valued := randomPortfolio(t, rand.New(rand.NewSource(11)), 60)
	groups := Aggregate(valued, nil)

	count := 0
	total := decimal.Zero
	for _, g := range groups {
		count += g.PositionCount
		total = total.Add(g.Value)
	}
	assert.Equal(t, len(valued), count)
	assert.True(t, total.Equal(Summarize(valued).Value), "Σ group value must equal portfolio value exactly")
}

// --- Portfolio summarizer ---

func TestSummarize_Scenario3Weights(t *testing.T) {
	summary := Breakdown(scenarioThree(t), nil)

	assertDecimal(t, "3000", summary.Value, "portfolio value")
	require.Len(t, summary.Groups, 2)
	assert.Equal(t, "0.6667", summary.Groups[0].Weight.Round(4).String())
	assert.Equal(t, "0.3333", summary.Groups[1].Weight.Round(4).String())
	assertClose(t, decimal.NewFromInt(1), summary.Groups[0].Weight.Add(summary.Groups[1].Weight), "Σ weights")
}

func TestSummarize_PathsAgree(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		valued := randomPortfolio(t, rand.New(rand.NewSource(seed)), 25)

		direct := Summarize(valued)
		grouped := SummarizeGroups(Aggregate(valued, nil))

		assert.True(t, direct.Value.Equal(grouped.Value), "seed %d value", seed)
		assert.True(t, direct.Cost.Equal(grouped.Cost), "seed %d cost", seed)
		assert.True(t, direct.Gain.Equal(grouped.Gain), "seed %d gain", seed)
		assert.True(t, direct.DailyGain.Equal(grouped.DailyGain), "seed %d daily gain", seed)
		assertClose(t, direct.GainRate, grouped.GainRate, fmt.Sprintf("seed %d gain rate", seed))
		assertClose(t, direct.DailyGainRate, grouped.DailyGainRate, fmt.Sprintf("seed %d daily rate", seed))
		assert.Equal(t, direct.PositionCount, grouped.PositionCount)
	}
}

func TestSummarize_WeightsSumToOne(t *testing.T) {
	for seed := int64(100); seed < 120; seed++ {
		s := Breakdown(randomPortfolio(t, rand.New(rand.NewSource(seed)), 30), nil)
		if !s.Value.IsPositive() {
			continue
		}
		sum := decimal.Zero
		for _, g := range s.Groups {
			sum = sum.Add(g.Weight)
		}
		assertClose(t, decimal.NewFromInt(1), sum, fmt.Sprintf("seed %d Σ weights", seed))
	}
}

func TestSummarize_ZeroValuePortfolio(t *testing.T) {
	valued, err := ValuateAll([]model.Position{
		pos("a", "000001", "10", "1", "A"),
		pos("b", "000002", "10", "1", "B"),
	}, nil)
	require.NoError(t, err)

	s := Breakdown(valued, nil)
	assert.True(t, s.Value.IsZero())
	assertDecimal(t, "-1", s.GainRate, "gain_rate")
	assert.True(t, s.DailyGainRate.IsZero())
	for _, g := range s.Groups {
		assert.True(t, g.Weight.IsZero(), "weight of %q should be zero", g.GroupName)
	}
}

func TestWeighPositions(t *testing.T) {
	valued := scenarioThree(t)
	weighted := WeighPositions(valued, Summarize(valued).Value)

	assert.Equal(t, "0.4333", weighted[0].Weight.Round(4).String()) // 1300 / 3000
	assert.True(t, valued[0].Weight.IsZero(), "input must not be modified")

	for _, vp := range WeighPositions(valued, decimal.Zero) {
		assert.True(t, vp.Weight.IsZero())
	}
}

// --- Engine ---

func TestEngine_ReportFlagsStalePricesAndColorsGroups(t *testing.T) {
	now := time.Date(2024, 3, 8, 14, 30, 0, 0, time.UTC)
	fresh := fund("000001", "1.3", "0.05")
	fresh.LastUpdated = now.Add(-45 * time.Second)
	old := fund("000002", "0.7", "0")
	old.LastUpdated = now.Add(-10 * time.Minute)

	snap := model.Snapshot{
		Funds: map[string]model.Fund{"000001": fresh, "000002": old},
		Positions: []model.Position{
			pos("a", "000001", "1000", "1.2", "Tech"),
			pos("b", "000002", "1000", "0.8", "Deleted"),
			pos("c", "000003", "10", "1", ""),
		},
		Groups: []model.Group{{Name: "Tech", Color: "#ff0000"}},
	}

	engine, err := NewEngine(60)
	require.NoError(t, err)

	report, err := engine.Report(snap, now)
	require.NoError(t, err)

	assert.False(t, report.Positions[0].Stale)
	assert.True(t, report.Positions[1].Stale)
	assert.True(t, report.Positions[2].Stale, "never-priced fund is stale")
	assert.Equal(t, []string{"000002", "000003"}, report.StaleFunds)

	require.NotNil(t, report.Positions[0].PriceAgeSeconds)
	assert.EqualValues(t, 45, *report.Positions[0].PriceAgeSeconds)
	require.NotNil(t, report.Positions[1].PriceAgeSeconds)
	assert.EqualValues(t, 600, *report.Positions[1].PriceAgeSeconds)
	assert.Nil(t, report.Positions[2].PriceAgeSeconds, "never-priced fund has no age")

	require.Len(t, report.Groups, 3)
	assert.Equal(t, "#ff0000", report.Groups[0].Color)
	assert.Equal(t, "", report.Groups[1].Color, "orphaned group keeps its name with no color")
	assert.Equal(t, "Deleted", report.Groups[1].GroupName)

	assertDecimal(t, "2000", report.Summary.Value, "summary value")
	assert.Nil(t, report.Summary.Groups)
	assert.Equal(t, 60, report.RefreshInterval)
	assert.Equal(t, "0.65", report.Positions[0].Weight.String())
}

func TestEngine_InvalidInterval(t *testing.T) {
	_, err := NewEngine(5)
	assert.Error(t, err)
}

func TestEngine_InvalidSnapshot(t *testing.T) {
	engine, err := NewEngine(60)
	require.NoError(t, err)

	_, err = engine.Report(model.Snapshot{
		Positions: []model.Position{pos("neg", "000001", "-1", "1", "")},
	}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// --- helpers ---

func randomPortfolio(t *testing.T, r *rand.Rand, n int) []model.ValuedPosition {
	t.Helper()
	groups := []string{"Tech", "Health", "", "QDII", "Energy"}
	funds := make(map[string]model.Fund)
	positions := make([]model.Position, 0, n)

	for i := 0; i < n; i++ {
		code := fmt.Sprintf("%06d", r.Intn(15))
		if _, ok := funds[code]; !ok {
			price := decimal.New(int64(r.Intn(40000)), -4)      // 0.0000 .. 3.9999
			change := decimal.New(int64(r.Intn(2000)-1000), -4) // -10% .. +10%
			funds[code] = model.Fund{Code: code, CurrentPrice: price, ChangeRate: change}
		}
		positions = append(positions, model.Position{
			ID:        fmt.Sprintf("p%d", i),
			FundCode:  code,
			Shares:    decimal.New(int64(r.Intn(1000000)), -2),
			CostPrice: decimal.New(int64(r.Intn(30000)), -4),
			GroupName: groups[r.Intn(len(groups))],
		})
	}

	valued, err := ValuateAll(positions, funds)
	require.NoError(t, err)
	return valued
}

func assertGroupEqual(t *testing.T, a, b model.GroupSummary) {
	t.Helper()
	assert.Equal(t, a.GroupName, b.GroupName)
	assert.Equal(t, a.PositionCount, b.PositionCount)
	for _, pair := range [][2]decimal.Decimal{
		{a.Value, b.Value}, {a.Cost, b.Cost}, {a.Gain, b.Gain},
		{a.GainRate, b.GainRate}, {a.DailyGain, b.DailyGain},
		{a.DailyGainRate, b.DailyGainRate}, {a.Weight, b.Weight},
	} {
		assert.True(t, pair[0].Equal(pair[1]), "%s != %s", pair[0], pair[1])
	}
}
