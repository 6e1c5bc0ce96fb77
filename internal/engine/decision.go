// Package engine holds the per-symbol decision state machine: it folds the
// indicator pipeline and the trading state into a BUY/SELL/HOLD action each
// cycle. It never talks to the exchange; order submission is the executor's
// job.
package engine

import (
	"fmt"
	"math"
	"time"

	"spot-dca-bot-go/internal/indicator"
	"spot-dca-bot-go/internal/models"
	"spot-dca-bot-go/internal/statemanager"

	"go.uber.org/zap"
)

const (
	rsiBuyThreshold  = 35.0
	rsiSellThreshold = 65.0

	stochOversold   = 0.2
	stochOverbought = 0.8
	stochRSIPeriod  = 14
	stochKPeriod    = 3
	stochDPeriod    = 3
	rsiHistoryMax   = 50

	// Oscillator-based sells need this many consecutive bearish MACD cycles.
	macdSellConfirmations = 3

	// Signals only count when price sits within this fraction of the trend MA.
	maProximityFraction = 0.05

	// LongTermMAPeriod is the slow MA window used as the trend veto.
	LongTermMAPeriod = 200

	bollingerStdDevs = 2.0

	// Anchor drift: the initial price slowly follows the market when the bot
	// has been idle, so thresholds stay reachable.
	driftUpIdle     = 15 * time.Minute
	driftDownIdle   = time.Hour
	driftWeight     = 0.1
	dustQuoteValue  = 1.0
	driftUpMargin   = 1.05
	driftDownMargin = 0.95
)

// Decision is an order intent handed to the executor. Amount is only set for
// manual commands carrying an explicit size; zero means configured sizing.
type Decision struct {
	Symbol string
	Side   models.Side
	Price  float64
	Amount float64
	Manual bool
	Reason string
	// SELL only: new anchor for the initial price once the fill confirms.
	ResetInitialTo float64
}

// Result is the outcome of evaluating one symbol for one cycle. A nil
// Decision means HOLD; HoldReason says why.
type Result struct {
	Decision   *Decision
	HoldReason string
}

// Signals is the indicator snapshot computed for one evaluation. Nil
// pointers mean the indicator had insufficient data and was skipped.
type Signals struct {
	MACD             *indicator.MACD
	RSI              *float64
	Stoch            *indicator.StochRSI
	Bollinger        *indicator.Bollinger
	TrendMA          *float64
	LongTermMA       *float64
	Volatility       float64
	VolatilityFactor float64
}

// DecisionEngine evaluates one symbol per call. It owns no I/O: price history
// and balances come in as arguments, state mutations go through the store.
type DecisionEngine struct {
	store  *statemanager.Store
	logger *zap.SugaredLogger
}

// NewDecisionEngine creates an engine bound to the given state store.
func NewDecisionEngine(store *statemanager.Store, logger *zap.SugaredLogger) *DecisionEngine {
	return &DecisionEngine{store: store, logger: logger}
}

// Evaluate runs one cycle of the state machine for a symbol. history must be
// chronological and already include price as its last element. manual, when
// non-nil, overrides every computed signal for this cycle.
func (e *DecisionEngine) Evaluate(
	cfg models.CoinConfig,
	symbol string,
	price float64,
	history []float64,
	balances map[string]float64,
	quoteCurrency string,
	manual *models.ManualCommand,
	now time.Time,
) Result {
	state := e.store.Ensure(symbol, price, now)
	defer e.finishCycle(symbol, price, now)

	// Streak and extrema tracking applies unconditionally each cycle.
	e.store.Mutate(symbol, func(s *models.TradingState) {
		if s.PreviousPrice > 0 {
			if price > s.PreviousPrice {
				s.RisingStreak++
			} else {
				s.RisingStreak = 0
			}
			if price < s.PreviousPrice {
				s.FallingStreak++
			} else {
				s.FallingStreak = 0
			}
		}
		if s.HasPosition() && price > s.PeakPrice {
			s.PeakPrice = price
		}
		if s.TroughPrice == 0 || price < s.TroughPrice {
			s.TroughPrice = price
		}
	})
	prevPrice := state.PreviousPrice
	state = e.store.Get(symbol)

	trailStop := 0.0
	if state.PeakPrice > 0 {
		trailStop = state.PeakPrice * (1 - cfg.TrailPercent/100)
	}

	// Trailing-stop breach outranks everything except a manual command: the
	// position is closed even when indicators cannot be computed.
	if manual == nil && state.HasPosition() && trailStop > 0 &&
		prevPrice > trailStop && price <= trailStop && balances[symbol] > 0 {
		return e.sell(cfg, state, symbol, price, history,
			fmt.Sprintf("trailing stop breached: peak %.8f, stop %.8f", state.PeakPrice, trailStop))
	}

	if manual != nil {
		return e.applyManual(state, symbol, price, manual)
	}

	needed := cfg.HistoryNeeded()
	if len(history) < needed {
		reason := fmt.Sprintf("Not enough data for indicators. Required: %d, Available: %d", needed, len(history))
		e.logger.Warnf("%s: %s", symbol, reason)
		return Result{HoldReason: reason}
	}

	sig := e.computeSignals(cfg, symbol, history)
	state = e.store.Get(symbol)

	// Proximity gate: when price has detached from its trend MA, signals are
	// unreliable and the symbol just tracks state this cycle.
	if sig.TrendMA != nil && math.Abs(price-*sig.TrendMA) >= maProximityFraction*(*sig.TrendMA) {
		deviation := math.Abs(price-*sig.TrendMA) / *sig.TrendMA * 100
		return Result{HoldReason: fmt.Sprintf("price deviates %.2f%% from MA %.8f", deviation, *sig.TrendMA)}
	}

	e.updateMACDConfirmation(symbol, sig)
	e.driftInitialPrice(cfg, symbol, price, sig, balances, now)
	state = e.store.Get(symbol)

	dynamicBuyThreshold := cfg.BuyPercentage * sig.VolatilityFactor
	dynamicSellThreshold := cfg.SellPercentage * sig.VolatilityFactor
	priceChange := (price - state.InitialPrice) / state.InitialPrice * 100

	// SELL is evaluated before BUY within a cycle.
	if sell, reason := e.sellCondition(cfg, state, sig, price, dynamicSellThreshold, balances[symbol]); sell {
		return e.sell(cfg, state, symbol, price, history, reason)
	}

	if buy, reason := e.buyCondition(cfg, state, sig, price, priceChange, dynamicBuyThreshold,
		balances[quoteCurrency], now); buy {
		return Result{Decision: &Decision{
			Symbol: symbol,
			Side:   models.Buy,
			Price:  price,
			Reason: reason,
		}}
	}

	return Result{HoldReason: "no signal"}
}

// sellCondition checks the sell paths in priority order: Bollinger upper-band
// breakout, then confirmed bearish momentum, both requiring price above the
// take-profit level and a falling streak.
func (e *DecisionEngine) sellCondition(
	cfg models.CoinConfig,
	state *models.TradingState,
	sig *Signals,
	price, dynamicSellThreshold, baseBalance float64,
) (bool, string) {
	if !state.HasPosition() || baseBalance <= 0 {
		return false, ""
	}
	takeProfit := state.AverageBuyPrice * (1 + dynamicSellThreshold/100)
	offsetTarget := state.AverageBuyPrice * (1 + cfg.SellOffsetPercent/100)
	if price < takeProfit && price < offsetTarget {
		return false, ""
	}
	if state.FallingStreak <= 1 {
		return false, ""
	}

	if sig.Bollinger != nil && price > sig.Bollinger.Upper {
		return true, fmt.Sprintf("price %.8f above Bollinger upper %.8f with %.2f%% gain",
			price, sig.Bollinger.Upper, (price/state.AverageBuyPrice-1)*100)
	}

	macdBearish := sig.MACD != nil && sig.MACD.Line < sig.MACD.Signal
	stochOK := sig.Stoch == nil || (sig.Stoch.K > stochOverbought && sig.Stoch.K < sig.Stoch.D)
	rsiOverbought := sig.RSI != nil && *sig.RSI > rsiSellThreshold
	aboveMid := sig.Bollinger == nil || price > sig.Bollinger.Mid
	if macdBearish && state.MACDSellConfirm >= macdSellConfirmations && (stochOK || rsiOverbought) && aboveMid {
		return true, fmt.Sprintf("bearish MACD confirmed %d cycles with %.2f%% gain",
			state.MACDSellConfirm, (price/state.AverageBuyPrice-1)*100)
	}
	return false, ""
}

// buyCondition checks the buy paths in priority order: DCA rebuy below the
// average cost, then a fresh entry on an oversold band signal. Both respect
// the buy cooldown and the long-term trend veto.
func (e *DecisionEngine) buyCondition(
	cfg models.CoinConfig,
	state *models.TradingState,
	sig *Signals,
	price, priceChange, dynamicBuyThreshold, quoteBalance float64,
	now time.Time,
) (bool, string) {
	if quoteBalance <= 0 {
		return false, ""
	}
	cooldown := time.Duration(cfg.BuyCooldownSec) * time.Second
	if !state.LastBuyAt.IsZero() && now.Sub(state.LastBuyAt) <= cooldown {
		return false, ""
	}
	if state.RisingStreak <= 1 {
		return false, ""
	}
	// Trend veto: never open or extend while price sits above the long MA.
	trendMA := sig.LongTermMA
	if trendMA == nil {
		trendMA = sig.TrendMA
	}
	if trendMA != nil && price >= *trendMA {
		return false, ""
	}

	// Rebuy takes priority over a fresh oscillator entry.
	if state.HasPosition() {
		rebuyLevel := state.AverageBuyPrice * (1 - cfg.RebuyDiscount/100)
		if price <= rebuyLevel {
			return true, fmt.Sprintf("rebuy: price %.8f at or below %.8f (avg %.8f, discount %.2f%%)",
				price, rebuyLevel, state.AverageBuyPrice, cfg.RebuyDiscount)
		}
		return false, ""
	}

	// Entry band: below the lower Bollinger band, or below the middle band
	// with a bullish oversold stochastic cross.
	belowLower := sig.Bollinger == nil || price < sig.Bollinger.Lower
	stochBullish := sig.Stoch == nil || (sig.Stoch.K < stochOversold && sig.Stoch.K > sig.Stoch.D)
	belowMid := sig.Bollinger == nil || price < sig.Bollinger.Mid
	entryBand := belowLower || (belowMid && stochBullish)
	if !entryBand {
		return false, ""
	}

	// The price condition is mandatory: oscillator readings qualify an entry,
	// they never substitute for it.
	withinThreshold := priceChange <= dynamicBuyThreshold ||
		price <= state.InitialPrice*(1+cfg.BuyOffsetPercent/100)
	if !withinThreshold {
		return false, ""
	}
	rsiOversold := sig.RSI != nil && *sig.RSI < rsiBuyThreshold
	return true, fmt.Sprintf("entry: change %.2f%% vs threshold %.2f%%, RSI oversold=%t",
		priceChange, dynamicBuyThreshold, rsiOversold)
}

// sell builds a SELL decision with the post-fill anchor reset attached.
func (e *DecisionEngine) sell(
	cfg models.CoinConfig,
	state *models.TradingState,
	symbol string,
	price float64,
	history []float64,
	reason string,
) Result {
	resetTo := price
	if longMA, err := indicator.SMA(history, LongTermMAPeriod); err == nil {
		resetTo = longMA
	} else if trendMA, err := indicator.SMA(history, cfg.TrendWindow); err == nil {
		resetTo = trendMA
	}
	return Result{Decision: &Decision{
		Symbol:         symbol,
		Side:           models.Sell,
		Price:          price,
		Reason:         reason,
		ResetInitialTo: resetTo,
	}}
}

// applyManual turns a pending manual command into a decision, bypassing all
// computed signals. The command was already marked executed at fetch time.
func (e *DecisionEngine) applyManual(
	state *models.TradingState,
	symbol string,
	price float64,
	manual *models.ManualCommand,
) Result {
	e.logger.Infof("%s: manual %s command from %s", symbol, manual.Action, manual.Timestamp.Format(time.RFC3339))
	d := &Decision{
		Symbol: symbol,
		Side:   manual.Action,
		Price:  price,
		Amount: manual.Amount,
		Manual: true,
		Reason: "manual command",
	}
	if manual.Action == models.Sell {
		d.ResetInitialTo = price
	}
	return Result{Decision: d}
}

// computeSignals evaluates every indicator that has sufficient data. Missing
// data skips that single indicator, never the whole evaluation.
func (e *DecisionEngine) computeSignals(cfg models.CoinConfig, symbol string, history []float64) *Signals {
	sig := &Signals{VolatilityFactor: 1}

	if vol, err := indicator.CalculateVolatility(history, cfg.VolatilityWindow); err == nil {
		sig.Volatility = vol
		sig.VolatilityFactor = math.Min(1.5, math.Max(0.5, 1+math.Abs(vol)))
	} else {
		e.logInsufficient(symbol, err)
	}

	if macd, err := indicator.CalculateMACD(history, cfg.MACDShortWindow, cfg.MACDLongWindow, cfg.MACDSignalWindow); err == nil {
		sig.MACD = macd
	} else {
		e.logInsufficient(symbol, err)
	}

	if rsi, err := indicator.CalculateRSI(history, cfg.RSIPeriod); err == nil {
		sig.RSI = &rsi
		e.store.Mutate(symbol, func(s *models.TradingState) {
			s.RSIHistory = append(s.RSIHistory, rsi)
			if len(s.RSIHistory) > rsiHistoryMax {
				s.RSIHistory = s.RSIHistory[len(s.RSIHistory)-rsiHistoryMax:]
			}
		})
	} else {
		e.logInsufficient(symbol, err)
	}

	if rsiHist := e.store.Get(symbol).RSIHistory; len(rsiHist) > 0 {
		if stoch, err := indicator.CalculateStochRSI(rsiHist, stochRSIPeriod, stochKPeriod, stochDPeriod); err == nil {
			sig.Stoch = stoch
		}
	}

	if boll, err := indicator.CalculateBollinger(history, cfg.VolatilityWindow, bollingerStdDevs); err == nil {
		sig.Bollinger = boll
	} else {
		e.logInsufficient(symbol, err)
	}

	if trend, err := indicator.CalculateTrend(history, cfg.TrendWindow); err == nil {
		sig.TrendMA = &trend.MA
	}
	if longMA, err := indicator.SMA(history, LongTermMAPeriod); err == nil {
		sig.LongTermMA = &longMA
	}

	return sig
}

// updateMACDConfirmation advances the per-symbol confirmation counters: the
// side matching the current MACD posture gains one, the other decays.
func (e *DecisionEngine) updateMACDConfirmation(symbol string, sig *Signals) {
	if sig.MACD == nil {
		return
	}
	bullish := sig.MACD.Line > sig.MACD.Signal
	bearish := sig.MACD.Line < sig.MACD.Signal
	e.store.Mutate(symbol, func(s *models.TradingState) {
		switch {
		case bullish:
			s.MACDBuyConfirm++
			s.MACDSellConfirm = max(0, s.MACDSellConfirm-1)
		case bearish:
			s.MACDSellConfirm++
			s.MACDBuyConfirm = max(0, s.MACDBuyConfirm-1)
		default:
			s.MACDBuyConfirm = max(0, s.MACDBuyConfirm-1)
			s.MACDSellConfirm = max(0, s.MACDSellConfirm-1)
		}
	})
}

// driftInitialPrice nudges the anchor toward the market after long idle
// stretches, so a runaway price does not leave thresholds unreachable.
func (e *DecisionEngine) driftInitialPrice(
	cfg models.CoinConfig,
	symbol string,
	price float64,
	sig *Signals,
	balances map[string]float64,
	now time.Time,
) {
	state := e.store.Get(symbol)
	sinceLastBuy := now.Sub(state.LastBuyAt)
	if state.LastBuyAt.IsZero() {
		sinceLastBuy = driftDownIdle + time.Second
	}
	dynamicSellThreshold := cfg.SellPercentage * sig.VolatilityFactor
	priceChange := (price - state.InitialPrice) / state.InitialPrice * 100

	if sig.LongTermMA != nil && sinceLastBuy > driftUpIdle &&
		priceChange >= dynamicSellThreshold &&
		price > state.InitialPrice*driftUpMargin && price > *sig.LongTermMA {
		newInitial := (1-driftWeight)*state.InitialPrice + driftWeight**sig.LongTermMA
		e.logger.Infof("%s: initial price drifts up %.8f -> %.8f", symbol, state.InitialPrice, newInitial)
		e.store.Mutate(symbol, func(s *models.TradingState) { s.InitialPrice = newInitial })
		return
	}

	if sinceLastBuy > driftDownIdle && balances[symbol]*price < dustQuoteValue &&
		price < state.InitialPrice*driftDownMargin {
		newInitial := (1-driftWeight)*state.InitialPrice + driftWeight*price
		e.logger.Infof("%s: initial price drifts down %.8f -> %.8f", symbol, state.InitialPrice, newInitial)
		e.store.Mutate(symbol, func(s *models.TradingState) { s.InitialPrice = newInitial })
	}
}

// finishCycle records the price for next cycle's streak comparison.
func (e *DecisionEngine) finishCycle(symbol string, price float64, now time.Time) {
	e.store.Mutate(symbol, func(s *models.TradingState) {
		s.PreviousPrice = price
		s.LastActionAt = now
	})
}

func (e *DecisionEngine) logInsufficient(symbol string, err error) {
	if indicator.IsInsufficientData(err) {
		e.logger.Debugf("%s: %v", symbol, err)
		return
	}
	e.logger.Warnf("%s: indicator error: %v", symbol, err)
}
