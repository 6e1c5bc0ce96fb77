// Package executor turns decisions into exchange orders: it sizes the order
// against the shared balance snapshot, submits it with bounded retry, and
// commits the confirmed fill back into trading state and the trade log.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"spot-dca-bot-go/internal/engine"
	"spot-dca-bot-go/internal/exchange"
	"spot-dca-bot-go/internal/models"
	"spot-dca-bot-go/internal/notifier"
	"spot-dca-bot-go/internal/persistence"
	"spot-dca-bot-go/internal/statemanager"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	quoteSizePrecision = 2

	// Quote value below which a residual position counts as closed.
	positionDustValue = 1.0
)

// Executor submits orders for one configured exchange and account.
type Executor struct {
	exchange exchange.Exchange
	store    *statemanager.Store
	repo     persistence.StateRepository
	notifier notifier.Notifier
	logger   *zap.SugaredLogger

	buyPercentage  float64
	sellPercentage float64
	retryAttempts  int
	retryDelay     time.Duration
}

// New creates an executor. buyPercentage and sellPercentage are the global
// sizing percentages from the top-level config.
func New(
	ex exchange.Exchange,
	store *statemanager.Store,
	repo persistence.StateRepository,
	n notifier.Notifier,
	buyPercentage, sellPercentage float64,
	retryAttempts int,
	retryInitialDelay time.Duration,
	logger *zap.SugaredLogger,
) *Executor {
	return &Executor{
		exchange:       ex,
		store:          store,
		repo:           repo,
		notifier:       n,
		buyPercentage:  buyPercentage,
		sellPercentage: sellPercentage,
		retryAttempts:  retryAttempts,
		retryDelay:     retryInitialDelay,
		logger:         logger,
	}
}

// Execute sizes, submits and commits one decision. balances is the cycle's
// shared snapshot; confirmed fills adjust it in place so later symbols in the
// same cycle cannot spend balance that is already committed.
func (x *Executor) Execute(ctx context.Context, cfg models.CoinConfig, d *engine.Decision, balances map[string]float64) error {
	req, err := x.size(cfg, d, balances)
	if err != nil {
		return err
	}

	fill, err := x.submitWithRetry(ctx, req)
	if err != nil {
		return err
	}

	x.commit(ctx, cfg, d, fill, balances)
	return nil
}

// size builds the order request. Amounts round down, never up, so a fill can
// never exceed the held balance.
func (x *Executor) size(cfg models.CoinConfig, d *engine.Decision, balances map[string]float64) (models.OrderRequest, error) {
	req := models.OrderRequest{
		Symbol:        d.Symbol,
		Side:          d.Side,
		PriceHint:     roundDown(d.Price, cfg.PricePrecision),
		ClientOrderID: newClientOrderID(),
	}

	switch d.Side {
	case models.Buy:
		quoteAvail := balances[x.exchange.QuoteCurrency()]
		quoteCost := roundDown(quoteAvail*x.buyPercentage/100, quoteSizePrecision)
		if d.Manual && d.Amount > 0 {
			quoteCost = roundDown(math.Min(d.Amount, quoteAvail), quoteSizePrecision)
		}
		if quoteCost < cfg.MinOrderBuy {
			return req, fmt.Errorf("%w: buy of %.2f %s below minimum %.2f",
				models.ErrInsufficientBalance, quoteCost, x.exchange.QuoteCurrency(), cfg.MinOrderBuy)
		}
		req.QuoteAmount = quoteCost

	case models.Sell:
		baseFree := balances[d.Symbol]
		sellAmount := roundDown(baseFree*x.sellPercentage/100, cfg.AmountPrecision)
		if d.Manual && d.Amount > 0 {
			sellAmount = roundDown(d.Amount, cfg.AmountPrecision)
		}
		// Leave one precision step behind so rounding on the exchange side
		// can never overdraw the balance.
		safeMargin := math.Pow(10, -float64(cfg.AmountPrecision))
		sellAmount = math.Min(sellAmount, roundDown(baseFree-safeMargin, cfg.AmountPrecision))
		if sellAmount <= 0 || sellAmount < cfg.MinOrderSell {
			return req, fmt.Errorf("%w: sell of %.8f %s below minimum %.8f",
				models.ErrInsufficientBalance, sellAmount, d.Symbol, cfg.MinOrderSell)
		}
		req.BaseAmount = sellAmount
	}

	return req, nil
}

// submitWithRetry places the order, retrying transient failures with
// exponential backoff. Permanent failures and balance rejections abort on
// the first attempt.
func (x *Executor) submitWithRetry(ctx context.Context, req models.OrderRequest) (*models.FillResult, error) {
	delay := x.retryDelay
	var lastErr error

	for attempt := 1; attempt <= x.retryAttempts; attempt++ {
		fill, err := x.exchange.PlaceMarketOrder(ctx, req)
		if err == nil {
			return fill, nil
		}
		lastErr = err

		if errors.Is(err, models.ErrInsufficientBalance) || !models.IsTransient(err) {
			return nil, err
		}

		x.logger.Warnf("%s %s order attempt %d/%d failed: %v",
			req.Symbol, req.Side, attempt, x.retryAttempts, err)
		if attempt == x.retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("%s %s order failed after %d attempts: %w",
		req.Symbol, req.Side, x.retryAttempts, lastErr)
}

// commit applies a confirmed fill: trading state, the shared balance
// snapshot, the durable trade log and the notification sink.
func (x *Executor) commit(ctx context.Context, cfg models.CoinConfig, d *engine.Decision, fill *models.FillResult, balances map[string]float64) {
	now := time.Now()
	quote := x.exchange.QuoteCurrency()
	var profit float64

	x.store.Mutate(fill.Symbol, func(s *models.TradingState) {
		s.TotalTrades++
		s.LastActionAt = now

		switch fill.Side {
		case models.Buy:
			total := s.PositionAmount + fill.Amount
			if total > 0 {
				s.AverageBuyPrice = (s.PositionAmount*s.AverageBuyPrice + fill.Amount*fill.Price) / total
			}
			s.PositionAmount = total
			s.LastBuyAt = now
			// Trailing tracking re-anchors on every buy.
			s.PeakPrice = fill.Price
			s.TroughPrice = fill.Price

		case models.Sell:
			if s.AverageBuyPrice > 0 {
				profit = (fill.Price - s.AverageBuyPrice) * fill.Amount
				s.TotalProfit += profit
			}
			s.PositionAmount = math.Max(0, s.PositionAmount-fill.Amount)
			if s.PositionAmount*fill.Price < positionDustValue {
				s.PositionAmount = 0
				s.AverageBuyPrice = 0
				s.PeakPrice = 0
				s.TroughPrice = 0
			}
			if d.ResetInitialTo > 0 {
				s.InitialPrice = d.ResetInitialTo
			}
		}
	})

	if fill.Side == models.Buy {
		balances[quote] -= fill.QuoteSpent
		balances[fill.Symbol] += fill.Amount
		x.logger.Infof("%s: bought %.8f at %.8f (%.2f %s), reason: %s",
			fill.Symbol, fill.Amount, fill.Price, fill.QuoteSpent, quote, d.Reason)
	} else {
		balances[fill.Symbol] -= fill.Amount
		balances[quote] += fill.QuoteSpent
		x.logger.Infof("%s: sold %.8f at %.8f, profit %.4f %s, reason: %s",
			fill.Symbol, fill.Amount, fill.Price, profit, quote, d.Reason)
	}

	record := &models.TradeRecord{
		Symbol:    fill.Symbol,
		Side:      fill.Side,
		Amount:    fill.Amount,
		Price:     fill.Price,
		Profit:    profit,
		Timestamp: now,
	}
	if err := x.repo.AppendTrade(record); err != nil {
		x.logger.Warnf("%s: failed to append trade record: %v", fill.Symbol, err)
	}

	if err := x.notifier.Notify(ctx, notifier.FormatFill(fill, cfg.PricePrecision, quote)); err != nil {
		x.logger.Warnf("%s: notification failed: %v", fill.Symbol, err)
	}
}

// roundDown truncates v to places decimal places.
func roundDown(v float64, places int) float64 {
	f, _ := decimal.NewFromFloat(v).RoundFloor(int32(places)).Float64()
	return f
}

// newClientOrderID builds a unique, exchange-safe client order id.
func newClientOrderID() string {
	return "dca" + string(base62.FormatInt(time.Now().UnixNano()))
}
