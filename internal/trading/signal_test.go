package trading

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
)

func TestComputeInsufficientHistory(t *testing.T) {
	_, err := Compute(make([]float64, 20), 9, 21, 0.25)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientHistory))

	_, err = Compute(make([]float64, 21), 9, 21, 0.25)
	assert.NoError(t, err)
}

func TestComputeRoundsUpToTick(t *testing.T) {
	prices := []float64{100, 100.1, 100.2}
	state, err := Compute(prices, 1, 3, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 100.25, state.FastMA)
	assert.Equal(t, 100.25, state.SlowMA)
	assert.Equal(t, models.Up, state.Direction, "ties resolve up")
}

func TestComputeDirection(t *testing.T) {
	up, err := Compute([]float64{1, 2, 3, 4}, 2, 4, 0.25)
	require.NoError(t, err)
	assert.Equal(t, models.Up, up.Direction)
	assert.Equal(t, 3.5, up.FastMA)
	assert.Equal(t, 2.5, up.SlowMA)

	down, err := Compute([]float64{4, 3, 2, 1}, 2, 4, 0.25)
	require.NoError(t, err)
	assert.Equal(t, models.Down, down.Direction)
}

func TestRoundToTick(t *testing.T) {
	assert.Equal(t, 4100.25, RoundToTick(4100.3, 0.25))
	assert.Equal(t, 4100.5, RoundToTick(4100.4, 0.25))
	assert.Equal(t, 17.05, RoundToTick(17.049, 0.05))
	assert.Equal(t, 3.3, RoundToTick(3.3, 0))
}

func TestProperty_TrendDirectionFollowsAverages(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("direction is Up iff fast >= slow, averages on tick grid", prop.ForAll(
		func(prices []float64, fast int) bool {
			state, err := Compute(prices, fast, 21, 0.25)
			if err != nil {
				return false
			}
			if (state.FastMA >= state.SlowMA) != (state.Direction == models.Up) {
				return false
			}
			for _, ma := range []float64{state.FastMA, state.SlowMA} {
				if math.Mod(ma*4, 1) != 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(21, gen.Float64Range(3900, 4300)),
		gen.IntRange(1, 21),
	))

	properties.Property("rounded average is never below the exact mean", prop.ForAll(
		func(prices []float64) bool {
			state, err := Compute(prices, 5, 5, 0.25)
			if err != nil {
				return false
			}
			exact := mean(prices)
			ma := decimal.NewFromFloat(state.SlowMA)
			return ma.GreaterThanOrEqual(exact) && ma.Sub(exact).LessThan(decimal.NewFromFloat(0.25))
		},
		gen.SliceOfN(5, gen.Float64Range(1, 10000)),
	))

	properties.TestingRun(t)
}
