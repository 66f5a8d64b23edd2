// Package valuation turns fund prices and position lots into position,
// group and portfolio metrics.
//
// Everything here is a pure function of its inputs: no I/O, no shared
// state, safe to call concurrently. Callers supply one consistent snapshot
// of funds and positions per computation.
//
// All monetary values use shopspring/decimal. Sums are exact, so totals
// built from positions and totals built from group summaries are equal to
// the last digit.
package valuation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fundnet/fundtrack/internal/model"
	"github.com/fundnet/fundtrack/internal/money"
)

// ErrInvalidInput is returned for a fund/position code mismatch or a
// negative shares, cost or price value. The wrapped message names the
// offending fund code and position.
var ErrInvalidInput = errors.New("valuation: invalid input")

var minusOne = decimal.NewFromInt(-1)

// Valuate joins a position with its fund's price snapshot.
//
// For a fund that has no price yet, pass Fund{Code: position.FundCode}: the
// position is valued at zero and, when it has a cost, shows a gain rate of -1.
func Valuate(position model.Position, fund model.Fund) (model.ValuedPosition, error) {
	if err := validate(position, fund); err != nil {
		return model.ValuedPosition{}, err
	}

	cost := position.Shares.Mul(position.CostPrice)
	value := position.Shares.Mul(fund.CurrentPrice)

	return model.ValuedPosition{
		Position:     position,
		FundName:     fund.Name,
		CurrentPrice: fund.CurrentPrice,
		ChangeRate:   fund.ChangeRate,
		PriceAsOf:    fund.LastUpdated,
		Metrics:      positionMetrics(value, cost, fund.ChangeRate),
	}, nil
}

// ValuateAll valuates positions in order, looking funds up by code. A
// position whose fund is missing is valued against a zero-price placeholder.
// The first invalid record aborts the computation.
func ValuateAll(positions []model.Position, funds map[string]model.Fund) ([]model.ValuedPosition, error) {
	valued := make([]model.ValuedPosition, 0, len(positions))
	for _, p := range positions {
		fund, ok := funds[p.FundCode]
		if !ok {
			fund = model.Fund{Code: p.FundCode}
		}
		vp, err := Valuate(p, fund)
		if err != nil {
			return nil, err
		}
		valued = append(valued, vp)
	}
	return valued, nil
}

func validate(p model.Position, f model.Fund) error {
	if f.Code != p.FundCode {
		return fmt.Errorf("%w: position %s holds fund %q but was priced with fund %q",
			ErrInvalidInput, p.ID, p.FundCode, f.Code)
	}
	if p.Shares.IsNegative() {
		return fmt.Errorf("%w: position %s (fund %s): negative shares %s",
			ErrInvalidInput, p.ID, p.FundCode, p.Shares)
	}
	if p.CostPrice.IsNegative() {
		return fmt.Errorf("%w: position %s (fund %s): negative cost price %s",
			ErrInvalidInput, p.ID, p.FundCode, p.CostPrice)
	}
	if f.CurrentPrice.IsNegative() {
		return fmt.Errorf("%w: fund %s: negative price %s",
			ErrInvalidInput, f.Code, f.CurrentPrice)
	}
	return nil
}

// positionMetrics derives the metric set of a single lot. The daily rate
// is the fund's change rate passed through unchanged.
func positionMetrics(value, cost, changeRate decimal.Decimal) model.Metrics {
	gain := value.Sub(cost)
	return model.Metrics{
		Value:         value,
		Cost:          cost,
		Gain:          gain,
		GainRate:      money.DivOrZero(gain, cost),
		DailyGain:     DailyGain(value, changeRate),
		DailyGainRate: changeRate,
	}
}

// DailyGain is the part of value attributable to today's change:
// value - value/(1+changeRate). Zero when changeRate is -1.
func DailyGain(value, changeRate decimal.Decimal) decimal.Decimal {
	if changeRate.Equal(minusOne) || value.IsZero() {
		return decimal.Zero
	}
	yesterday := value.Div(money.One.Add(changeRate))
	return value.Sub(yesterday)
}
