package features

import (
	"math"
	"testing"

	"hybrid-learning-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeCandles builds a deterministic synthetic series with mild oscillation.
func makeCandles(n int) []models.Candle {
	candles := make([]models.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		move := math.Sin(float64(i)/3) * 2
		open := price
		closeP := price + move
		high := math.Max(open, closeP) + 0.5
		low := math.Min(open, closeP) - 0.5
		candles[i] = models.Candle{
			Symbol: "BTCUSDT",
			TS:     int64(i) * 300_000,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closeP,
			Volume: 10 + float64(i%7),
		}
		price = closeP
	}
	return candles
}

func TestExtractRejectsShortWindow(t *testing.T) {
	_, err := Extract(makeCandles(MinWindow - 1))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInsufficientHistory))

	_, err = Extract(makeCandles(MinWindow))
	require.NoError(t, err)
}

func TestExtractIsDeterministic(t *testing.T) {
	window := makeCandles(80)
	first, err := Extract(window)
	require.NoError(t, err)
	second, err := Extract(window)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtractAllValuesFinite(t *testing.T) {
	// A flat series drives several indicator denominators to zero.
	flat := make([]models.Candle, 60)
	for i := range flat {
		flat[i] = models.Candle{
			Symbol: "BTCUSDT", TS: int64(i) * 300_000,
			Open: 50, High: 50, Low: 50, Close: 50, Volume: 0,
		}
	}
	vec, err := Extract(flat)
	require.NoError(t, err)
	for i, v := range vec {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "feature %s not finite", models.FeatureNames[i])
	}
}

func TestExtractPriceFeatures(t *testing.T) {
	window := makeCandles(60)
	vec, err := Extract(window)
	require.NoError(t, err)

	last := window[len(window)-1]
	assert.Equal(t, last.Open, vec[0])
	assert.Equal(t, last.High, vec[1])
	assert.Equal(t, last.Low, vec[2])
	assert.Equal(t, last.Close, vec[3])
	assert.Equal(t, last.Volume, vec[4])
}

func TestIndicatorRanges(t *testing.T) {
	vec, err := Extract(makeCandles(120))
	require.NoError(t, err)

	rsiVal := vec[5]
	assert.GreaterOrEqual(t, rsiVal, 0.0)
	assert.LessOrEqual(t, rsiVal, 100.0)

	stochK := vec[6]
	assert.GreaterOrEqual(t, stochK, 0.0)
	assert.LessOrEqual(t, stochK, 100.0)

	williams := vec[8]
	assert.GreaterOrEqual(t, williams, -100.0)
	assert.LessOrEqual(t, williams, 0.0)

	bbHigh, bbLow := vec[18], vec[19]
	assert.Greater(t, bbHigh, bbLow)

	cmfVal := vec[22]
	assert.GreaterOrEqual(t, cmfVal, -1.0)
	assert.LessOrEqual(t, cmfVal, 1.0)
}

func TestShortWarmupIndicatorsZero(t *testing.T) {
	// 30 candles: enough for MACD but short of the AO warmup (34).
	vec, err := Extract(makeCandles(30))
	require.NoError(t, err)

	assert.Zero(t, vec[10], "ao should be zero before its warmup")
	assert.NotZero(t, vec[11], "macd should be available")
}
