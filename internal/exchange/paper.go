package exchange

import (
	"context"
	"fmt"
	"sync"

	"spot-dca-bot-go/internal/models"
)

// PaperExchange simulates a spot exchange in memory. Prices are pushed in by
// the caller and orders fill instantly at the current price, so the rest of
// the bot runs unchanged in dry-run mode and in tests.
type PaperExchange struct {
	mu            sync.Mutex
	quoteCurrency string
	balances      map[string]float64
	prices        map[string]float64
	orderSeq      int64
}

// NewPaperExchange creates a simulated exchange funded with quoteBalance of
// the quote currency.
func NewPaperExchange(quoteCurrency string, quoteBalance float64) *PaperExchange {
	return &PaperExchange{
		quoteCurrency: quoteCurrency,
		balances:      map[string]float64{quoteCurrency: quoteBalance},
		prices:        make(map[string]float64),
	}
}

func (e *PaperExchange) Name() string          { return "paper" }
func (e *PaperExchange) QuoteCurrency() string { return e.quoteCurrency }

// SetPrice sets the simulated last price for a base symbol.
func (e *PaperExchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// SetBalance overrides a currency balance.
func (e *PaperExchange) SetBalance(currency string, amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[currency] = amount
}

func (e *PaperExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no simulated price for %s", symbol)
	}
	return price, nil
}

func (e *PaperExchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.balances))
	for k, v := range e.balances {
		out[k] = v
	}
	return out, nil
}

// PlaceMarketOrder fills immediately at the current simulated price and
// settles both legs of the trade against the in-memory balances.
func (e *PaperExchange) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.FillResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[req.Symbol]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("no simulated price for %s", req.Symbol)
	}

	e.orderSeq++
	fill := &models.FillResult{
		Symbol:  req.Symbol,
		Side:    req.Side,
		Price:   price,
		OrderID: fmt.Sprintf("paper-%d", e.orderSeq),
	}

	switch req.Side {
	case models.Buy:
		if req.QuoteAmount <= 0 {
			return nil, fmt.Errorf("quote amount required for BUY")
		}
		if e.balances[e.quoteCurrency] < req.QuoteAmount {
			return nil, fmt.Errorf("%w: have %.2f %s, need %.2f",
				models.ErrInsufficientBalance, e.balances[e.quoteCurrency], e.quoteCurrency, req.QuoteAmount)
		}
		fill.QuoteSpent = req.QuoteAmount
		fill.Amount = req.QuoteAmount / price
		e.balances[e.quoteCurrency] -= req.QuoteAmount
		e.balances[req.Symbol] += fill.Amount
	case models.Sell:
		if req.BaseAmount <= 0 {
			return nil, fmt.Errorf("base amount required for SELL")
		}
		if e.balances[req.Symbol] < req.BaseAmount {
			return nil, fmt.Errorf("%w: have %.8f %s, need %.8f",
				models.ErrInsufficientBalance, e.balances[req.Symbol], req.Symbol, req.BaseAmount)
		}
		fill.Amount = req.BaseAmount
		fill.QuoteSpent = req.BaseAmount * price
		e.balances[req.Symbol] -= req.BaseAmount
		e.balances[e.quoteCurrency] += fill.QuoteSpent
	default:
		return nil, fmt.Errorf("unknown order side: %s", req.Side)
	}

	return fill, nil
}

func (e *PaperExchange) Close() error { return nil }
