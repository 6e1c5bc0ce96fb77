package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spot-dca-bot-go/internal/indicator"
	"spot-dca-bot-go/internal/models"
	"spot-dca-bot-go/internal/persistence"
	"spot-dca-bot-go/internal/statemanager"
)

func newTestEngine() (*DecisionEngine, *statemanager.Store) {
	store := statemanager.NewStore(persistence.NewMemoryRepository(), zap.NewNop().Sugar())
	return NewDecisionEngine(store, zap.NewNop().Sugar()), store
}

func testCoin() models.CoinConfig {
	return models.CoinConfig{
		Enabled:           true,
		BuyPercentage:     -2,
		SellPercentage:    3,
		BuyOffsetPercent:  -1,
		SellOffsetPercent: 2,
		TrailPercent:      5,
		RebuyDiscount:     5,
		VolatilityWindow:  20,
		TrendWindow:       10,
		MACDShortWindow:   12,
		MACDLongWindow:    26,
		MACDSignalWindow:  9,
		RSIPeriod:         14,
		MinOrderBuy:       5,
		MinOrderSell:      0.0001,
		PricePrecision:    2,
		AmountPrecision:   5,
		BuyCooldownSec:    120,
	}
}

// decliningHistory returns n prices falling linearly from start to end.
func decliningHistory(n int, start, end float64) []float64 {
	prices := make([]float64, n)
	step := (start - end) / float64(n-1)
	for i := range prices {
		prices[i] = start - float64(i)*step
	}
	prices[n-1] = end
	return prices
}

func TestHoldWithExactInsufficientDataMessage(t *testing.T) {
	eng, _ := newTestEngine()
	cfg := testCoin()
	cfg.RSIPeriod = 50 // needed becomes 51

	history := decliningHistory(46, 105, 100)
	res := eng.Evaluate(cfg, "BTC", 100, history, map[string]float64{"USDT": 1000}, "USDT", nil, time.Now())

	require.Nil(t, res.Decision)
	assert.Equal(t, "Not enough data for indicators. Required: 51, Available: 46", res.HoldReason)
}

func TestTrailingStopBreachSellsWithoutIndicatorData(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	store.Ensure("BTC", 100, now.Add(-time.Hour))
	store.Mutate("BTC", func(s *models.TradingState) {
		s.AverageBuyPrice = 100
		s.PositionAmount = 1
		s.PeakPrice = 110
		s.PreviousPrice = 108
	})

	// Stop sits at 110 * 0.95 = 104.5; price crosses it this cycle.
	history := []float64{108, 106, 104}
	res := eng.Evaluate(cfg, "BTC", 104, history, map[string]float64{"BTC": 1}, "USDT", nil, now)

	require.NotNil(t, res.Decision)
	assert.Equal(t, models.Sell, res.Decision.Side)
	assert.Contains(t, res.Decision.Reason, "trailing stop breached")
	assert.Equal(t, 104.0, res.Decision.ResetInitialTo, "too little history for an MA, anchor resets to price")
}

func TestTrailingStopHoldsAboveStop(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	store.Ensure("BTC", 100, now.Add(-time.Hour))
	store.Mutate("BTC", func(s *models.TradingState) {
		s.AverageBuyPrice = 100
		s.PositionAmount = 1
		s.PeakPrice = 110
		s.PreviousPrice = 108
	})

	history := []float64{108, 106, 105}
	res := eng.Evaluate(cfg, "BTC", 105, history, map[string]float64{"BTC": 1}, "USDT", nil, now)

	require.Nil(t, res.Decision)
	assert.Contains(t, res.HoldReason, "Not enough data")
}

func TestManualCommandBypassesIndicators(t *testing.T) {
	eng, _ := newTestEngine()
	cfg := testCoin()

	manual := &models.ManualCommand{
		ID:        "cmd-1",
		Symbol:    "ETH",
		Action:    models.Buy,
		Amount:    25,
		Timestamp: time.Now(),
	}
	history := []float64{100, 101, 102}
	res := eng.Evaluate(cfg, "ETH", 102, history, map[string]float64{"USDT": 1000}, "USDT", manual, time.Now())

	require.NotNil(t, res.Decision)
	assert.Equal(t, models.Buy, res.Decision.Side)
	assert.True(t, res.Decision.Manual)
	assert.Equal(t, 25.0, res.Decision.Amount)
}

func TestManualSellResetsAnchorToPrice(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	store.Ensure("ETH", 120, now.Add(-time.Hour))
	manual := &models.ManualCommand{ID: "cmd-2", Symbol: "ETH", Action: models.Sell, Timestamp: now}
	res := eng.Evaluate(cfg, "ETH", 102, []float64{102}, map[string]float64{"ETH": 1}, "USDT", manual, now)

	require.NotNil(t, res.Decision)
	assert.Equal(t, models.Sell, res.Decision.Side)
	assert.Equal(t, 102.0, res.Decision.ResetInitialTo)
}

func TestBuyOnOversoldEntry(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	// Anchor above the market so the price change clears the buy threshold.
	store.Ensure("ETH", 110, now.Add(-2*time.Hour))
	store.Mutate("ETH", func(s *models.TradingState) {
		s.PreviousPrice = 99.9
		s.RisingStreak = 1
	})

	history := decliningHistory(40, 110, 100)
	balances := map[string]float64{"USDT": 1000}
	res := eng.Evaluate(cfg, "ETH", 100, history, balances, "USDT", nil, now)

	require.NotNil(t, res.Decision)
	assert.Equal(t, models.Buy, res.Decision.Side)
	assert.False(t, res.Decision.Manual)
	assert.Contains(t, res.Decision.Reason, "entry")
}

func TestOversoldRSIAloneDoesNotBuy(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	// Price is only 0.5% under the anchor: above the -2% threshold and above
	// the -1% offset target of 99. The steadily declining window pins RSI to
	// oversold, which must not substitute for the price condition.
	store.Ensure("ETH", 100, now.Add(-2*time.Hour))
	store.Mutate("ETH", func(s *models.TradingState) {
		s.PreviousPrice = 99.4
		s.RisingStreak = 1
		s.LastBuyAt = now.Add(-10 * time.Minute)
	})

	history := decliningHistory(40, 103, 99.5)
	res := eng.Evaluate(cfg, "ETH", 99.5, history, map[string]float64{"USDT": 1000}, "USDT", nil, now)

	require.Nil(t, res.Decision)
	assert.Equal(t, "no signal", res.HoldReason)
}

func TestBuyCooldownBlocksEntry(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	store.Ensure("ETH", 110, now.Add(-2*time.Hour))
	store.Mutate("ETH", func(s *models.TradingState) {
		s.PreviousPrice = 99.9
		s.RisingStreak = 1
		s.LastBuyAt = now.Add(-time.Minute) // inside the 120s cooldown
	})

	history := decliningHistory(40, 110, 100)
	res := eng.Evaluate(cfg, "ETH", 100, history, map[string]float64{"USDT": 1000}, "USDT", nil, now)

	require.Nil(t, res.Decision)
	assert.Equal(t, "no signal", res.HoldReason)
}

func TestRisingStreakRequiredForBuy(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	store.Ensure("ETH", 110, now.Add(-2*time.Hour))
	store.Mutate("ETH", func(s *models.TradingState) {
		s.PreviousPrice = 100.1 // price falls this cycle, streak resets
	})

	history := decliningHistory(40, 110, 100)
	res := eng.Evaluate(cfg, "ETH", 100, history, map[string]float64{"USDT": 1000}, "USDT", nil, now)

	require.Nil(t, res.Decision)
}

func TestRebuyBelowAverageCost(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	store.Ensure("ETH", 110, now.Add(-2*time.Hour))
	store.Mutate("ETH", func(s *models.TradingState) {
		s.AverageBuyPrice = 110
		s.PositionAmount = 1
		s.PeakPrice = 110
		s.PreviousPrice = 99.9
		s.RisingStreak = 1
		s.LastBuyAt = now.Add(-10 * time.Minute)
	})

	// Rebuy level is 110 * 0.95 = 104.5; 100 qualifies.
	history := decliningHistory(40, 110, 100)
	balances := map[string]float64{"USDT": 1000, "ETH": 1}
	res := eng.Evaluate(cfg, "ETH", 100, history, balances, "USDT", nil, now)

	require.NotNil(t, res.Decision)
	assert.Equal(t, models.Buy, res.Decision.Side)
	assert.Contains(t, res.Decision.Reason, "rebuy")
}

func TestBollingerBreakoutSell(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	store.Ensure("ETH", 100, now.Add(-2*time.Hour))
	store.Mutate("ETH", func(s *models.TradingState) {
		s.AverageBuyPrice = 100
		s.PositionAmount = 1
		s.PeakPrice = 104
		s.PreviousPrice = 107
		s.FallingStreak = 2
		s.LastBuyAt = now.Add(-10 * time.Minute)
	})

	// A flat window with a late run-up: 106 closes above the upper band
	// (~104.1) while still gaining over the 100 average cost. The pullback
	// from 107 keeps the falling streak alive without crossing the trailing
	// stop at 100.7.
	history := make([]float64, 0, 40)
	for i := 0; i < 36; i++ {
		history = append(history, 100)
	}
	history = append(history, 102, 103, 104, 106)
	res := eng.Evaluate(cfg, "ETH", 106, history, map[string]float64{"ETH": 1}, "USDT", nil, now)

	require.NotNil(t, res.Decision)
	assert.Equal(t, models.Sell, res.Decision.Side)
	assert.Contains(t, res.Decision.Reason, "Bollinger upper")
	assert.InDelta(t, 101.5, res.Decision.ResetInitialTo, 1e-9, "anchor resets to the trend MA")
}

func TestMACDConfirmedSell(t *testing.T) {
	eng, _ := newTestEngine()
	cfg := testCoin()
	rsi := 50.0
	sig := &Signals{
		MACD:             &indicator.MACD{Line: -0.4, Signal: 0.3, Histogram: -0.7},
		RSI:              &rsi,
		Bollinger:        &indicator.Bollinger{Mid: 102, Upper: 109, Lower: 95},
		VolatilityFactor: 1,
	}

	state := &models.TradingState{
		AverageBuyPrice: 100,
		PositionAmount:  1,
		FallingStreak:   2,
		MACDSellConfirm: 3,
	}
	sell, reason := eng.sellCondition(cfg, state, sig, 105, 3, 1)
	require.True(t, sell)
	assert.Contains(t, reason, "bearish MACD confirmed")

	// Two confirmations is one short.
	state.MACDSellConfirm = 2
	sell, _ = eng.sellCondition(cfg, state, sig, 105, 3, 1)
	assert.False(t, sell)

	// Below both the take-profit and the offset target nothing sells.
	state.MACDSellConfirm = 3
	sell, _ = eng.sellCondition(cfg, state, sig, 101, 3, 1)
	assert.False(t, sell)
}

func TestMACDConfirmationCounters(t *testing.T) {
	eng, store := newTestEngine()
	store.Ensure("ETH", 100, time.Now())

	bearish := &Signals{MACD: &indicator.MACD{Line: -1, Signal: 1}}
	for i := 0; i < 3; i++ {
		eng.updateMACDConfirmation("ETH", bearish)
	}
	state := store.Get("ETH")
	assert.Equal(t, 3, state.MACDSellConfirm)
	assert.Equal(t, 0, state.MACDBuyConfirm)

	// A bullish cycle decays the sell side while building the buy side.
	bullish := &Signals{MACD: &indicator.MACD{Line: 1, Signal: -1}}
	eng.updateMACDConfirmation("ETH", bullish)
	state = store.Get("ETH")
	assert.Equal(t, 2, state.MACDSellConfirm)
	assert.Equal(t, 1, state.MACDBuyConfirm)
}

func TestInitialPriceDriftsTowardLongMA(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	// Flat for a long time with price running 12% above the anchor: the
	// anchor blends 10% of the long MA in.
	store.Ensure("ETH", 100, now.Add(-2*time.Hour))
	longMA := 110.0
	sig := &Signals{LongTermMA: &longMA, VolatilityFactor: 1}
	eng.driftInitialPrice(cfg, "ETH", 112, sig, map[string]float64{"ETH": 1}, now)

	assert.InDelta(t, 101.0, store.Get("ETH").InitialPrice, 1e-9)
}

func TestInitialPriceDriftsDownWhenFlat(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	// No holdings and price 10% under the anchor: the anchor follows price.
	store.Ensure("BTC", 100, now.Add(-2*time.Hour))
	eng.driftInitialPrice(cfg, "BTC", 90, &Signals{VolatilityFactor: 1}, map[string]float64{}, now)

	assert.InDelta(t, 99.0, store.Get("BTC").InitialPrice, 1e-9)
}

func TestProximityGateHoldsFarFromMA(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	store.Ensure("ETH", 110, now.Add(-2*time.Hour))

	// Flat history then a 10% gap down: price sits far from the trend MA.
	history := make([]float64, 40)
	for i := range history {
		history[i] = 110
	}
	history[len(history)-1] = 99
	res := eng.Evaluate(cfg, "ETH", 99, history, map[string]float64{"USDT": 1000}, "USDT", nil, now)

	require.Nil(t, res.Decision)
	assert.Contains(t, res.HoldReason, "deviates")
}

func TestEvaluateRecordsPreviousPrice(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	eng.Evaluate(cfg, "BTC", 100, []float64{100}, map[string]float64{"USDT": 10}, "USDT", nil, now)

	state := store.Get("BTC")
	require.NotNil(t, state)
	assert.Equal(t, 100.0, state.PreviousPrice)
	assert.Equal(t, 100.0, state.InitialPrice)
}

func TestStreakTracking(t *testing.T) {
	eng, store := newTestEngine()
	cfg := testCoin()
	now := time.Now()

	prices := []float64{100, 101, 102, 103}
	var history []float64
	for _, p := range prices {
		history = append(history, p)
		eng.Evaluate(cfg, "BTC", p, history, map[string]float64{}, "USDT", nil, now)
		now = now.Add(time.Second)
	}

	state := store.Get("BTC")
	assert.Equal(t, 3, state.RisingStreak)
	assert.Equal(t, 0, state.FallingStreak)

	history = append(history, 102.5)
	eng.Evaluate(cfg, "BTC", 102.5, history, map[string]float64{}, "USDT", nil, now)
	state = store.Get("BTC")
	assert.Equal(t, 0, state.RisingStreak)
	assert.Equal(t, 1, state.FallingStreak)
}
