package trading

import (
	"github.com/shopspring/decimal"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
)

// Compute derives the moving averages and direction from the tail of
// prices. Each average is rounded up to the tick increment and a tie
// resolves to Up.
func Compute(prices []float64, fast, slow int, tick float64) (models.TrendState, error) {
	need := fast
	if slow > need {
		need = slow
	}
	if need <= 0 || len(prices) < need {
		return models.TrendState{}, apperrors.Wrapf(apperrors.ErrInsufficientHistory, "have %d prices, need %d", len(prices), need)
	}

	fastMA := CeilToTick(mean(prices[len(prices)-fast:]), tick)
	slowMA := CeilToTick(mean(prices[len(prices)-slow:]), tick)

	state := models.TrendState{
		FastMA:    fastMA.InexactFloat64(),
		SlowMA:    slowMA.InexactFloat64(),
		Direction: models.Down,
	}
	if fastMA.GreaterThanOrEqual(slowMA) {
		state.Direction = models.Up
	}
	return state, nil
}

func mean(prices []float64) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(decimal.NewFromFloat(p))
	}
	return sum.Div(decimal.NewFromInt(int64(len(prices))))
}

// CeilToTick rounds v up to the next multiple of tick.
func CeilToTick(v decimal.Decimal, tick float64) decimal.Decimal {
	if tick <= 0 {
		return v
	}
	t := decimal.NewFromFloat(tick)
	return v.Div(t).Ceil().Mul(t)
}

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).InexactFloat64()
}
