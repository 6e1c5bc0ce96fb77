package indicator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingPrices(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	return prices
}

func TestEMAConstantSeries(t *testing.T) {
	prices := []float64{50, 50, 50, 50, 50, 50}
	ema, err := EMA(prices, 3)
	require.NoError(t, err)
	assert.Equal(t, 50.0, ema)

	series, err := EMASeries(prices, 3)
	require.NoError(t, err)
	assert.Len(t, series, len(prices)-3+1)
}

func TestEMAInsufficientData(t *testing.T) {
	_, err := EMA([]float64{1, 2}, 5)
	require.Error(t, err)
	assert.True(t, IsInsufficientData(err))
}

func TestSMA(t *testing.T) {
	sma, err := SMA([]float64{1, 2, 3, 4, 5, 6}, 3)
	require.NoError(t, err)
	assert.Equal(t, 5.0, sma)
}

func TestRSIBoundsAndExtremes(t *testing.T) {
	rsi, err := CalculateRSI(risingPrices(30), 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rsi, "all gains yield RSI 100")

	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = 200 - float64(i)
	}
	rsi, err = CalculateRSI(falling, 14)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rsi, "all losses yield RSI 0")

	rng := rand.New(rand.NewSource(42))
	prices := make([]float64, 100)
	prices[0] = 100
	for i := 1; i < len(prices); i++ {
		prices[i] = prices[i-1] * (1 + (rng.Float64()-0.5)/50)
	}
	rsi, err = CalculateRSI(prices, 14)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rsi, 0.0)
	assert.LessOrEqual(t, rsi, 100.0)
}

func TestRSIInsufficientData(t *testing.T) {
	_, err := CalculateRSI(risingPrices(46), 50)
	require.Error(t, err)
	var ide *InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, 51, ide.Required)
	assert.Equal(t, 46, ide.Available)
}

func TestMACDHistogramIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	prices := make([]float64, 120)
	prices[0] = 100
	for i := 1; i < len(prices); i++ {
		prices[i] = prices[i-1] * (1 + (rng.Float64()-0.5)/100)
	}

	macd, err := CalculateMACD(prices, 12, 26, 9)
	require.NoError(t, err)
	assert.Equal(t, macd.Line-macd.Signal, macd.Histogram, "histogram equals line minus signal exactly")
}

func TestMACDInsufficientData(t *testing.T) {
	_, err := CalculateMACD(risingPrices(34), 12, 26, 9)
	require.Error(t, err)
	var ide *InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, 35, ide.Required)
}

func TestBollingerConstantPrices(t *testing.T) {
	prices := make([]float64, 25)
	for i := range prices {
		prices[i] = 42
	}
	boll, err := CalculateBollinger(prices, 20, 2)
	require.NoError(t, err)
	assert.Equal(t, 42.0, boll.Mid)
	assert.Equal(t, 42.0, boll.Upper)
	assert.Equal(t, 42.0, boll.Lower)
	assert.Zero(t, boll.StdDev)
}

func TestBollingerBreakoutNeverBelowMean(t *testing.T) {
	prices := risingPrices(60)
	for end := 20; end <= len(prices); end++ {
		window := prices[:end]
		boll, err := CalculateBollinger(window, 20, 2)
		require.NoError(t, err)
		price := window[len(window)-1]
		if price > boll.Upper {
			assert.GreaterOrEqual(t, price, boll.Mid,
				"upper-band breakout must not fire below the moving average")
		}
	}
}

func TestStochRSIFlatInputCenters(t *testing.T) {
	rsiValues := make([]float64, 20)
	for i := range rsiValues {
		rsiValues[i] = 55
	}
	stoch, err := CalculateStochRSI(rsiValues, 14, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.5, stoch.K, "flat RSI has no range, raw value centers at 0.5")
	assert.Equal(t, 0.5, stoch.D)
}

func TestStochRSIBounds(t *testing.T) {
	rsiValues := []float64{30, 35, 40, 38, 45, 50, 48, 55, 60, 58, 65, 70, 68, 72, 75, 73, 78, 80}
	stoch, err := CalculateStochRSI(rsiValues, 14, 3, 3)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stoch.K, 0.0)
	assert.LessOrEqual(t, stoch.K, 1.0)
	assert.GreaterOrEqual(t, stoch.D, 0.0)
	assert.LessOrEqual(t, stoch.D, 1.0)
}

func TestStochRSIInsufficientData(t *testing.T) {
	_, err := CalculateStochRSI([]float64{50, 51, 52}, 14, 3, 3)
	require.Error(t, err)
	assert.True(t, IsInsufficientData(err))
}

func TestTrendSlope(t *testing.T) {
	trend, err := CalculateTrend(risingPrices(30), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, trend.Slope)

	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = 200 - float64(i)
	}
	trend, err = CalculateTrend(falling, 10)
	require.NoError(t, err)
	assert.Equal(t, -1, trend.Slope)

	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}
	trend, err = CalculateTrend(flat, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, trend.Slope)
	assert.Equal(t, 100.0, trend.MA)
}

func TestVolatilityFlatIsZero(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}
	vol, err := CalculateVolatility(flat, 10)
	require.NoError(t, err)
	assert.Zero(t, vol)
}

func TestVolatilityInsufficientData(t *testing.T) {
	_, err := CalculateVolatility([]float64{1, 2, 3}, 10)
	require.Error(t, err)
	assert.True(t, IsInsufficientData(err))
}
