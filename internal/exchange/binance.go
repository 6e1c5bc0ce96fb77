package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"spot-dca-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"go.uber.org/zap"
)

// BinanceExchange is a thin wrapper over the official SDK client. SDK errors
// are translated into the bot's error taxonomy so the executor can decide
// whether to retry.
type BinanceExchange struct {
	client        *binance.Client
	quoteCurrency string
	logger        *zap.SugaredLogger
}

// NewBinanceExchange creates a Binance spot connector.
func NewBinanceExchange(apiKey, secretKey, quoteCurrency string, logger *zap.SugaredLogger) *BinanceExchange {
	return &BinanceExchange{
		client:        binance.NewClient(apiKey, secretKey),
		quoteCurrency: quoteCurrency,
		logger:        logger,
	}
}

func (e *BinanceExchange) Name() string          { return "binance" }
func (e *BinanceExchange) QuoteCurrency() string { return e.quoteCurrency }

func (e *BinanceExchange) pair(symbol string) string {
	return symbol + e.quoteCurrency
}

// translateError maps SDK errors onto the bot taxonomy. Rate limits and
// server-side failures stay retryable, business rejections do not.
func translateError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case -2010, -2019:
		return fmt.Errorf("%w: %s", models.ErrInsufficientBalance, apiErr.Message)
	case -1003, -1015:
		return &models.APIError{Status: 429, Code: apiErr.Code, Msg: apiErr.Message}
	case -1000, -1001, -1007, -1021:
		return &models.APIError{Status: 500, Code: apiErr.Code, Msg: apiErr.Message}
	default:
		return &models.APIError{Status: 400, Code: apiErr.Code, Msg: apiErr.Message}
	}
}

// GetPrice returns the last traded price for the base/quote pair.
func (e *BinanceExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := e.client.NewListPricesService().Symbol(e.pair(symbol)).Do(ctx)
	if err != nil {
		return 0, translateError(err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", e.pair(symbol))
	}
	return strconv.ParseFloat(prices[0].Price, 64)
}

// GetBalances returns a currency -> free amount mapping.
func (e *BinanceExchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, translateError(err)
	}

	balances := make(map[string]float64, len(account.Balances))
	for _, b := range account.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			continue
		}
		balances[b.Asset] = free
	}
	return balances, nil
}

// PlaceMarketOrder submits a MARKET order and derives the average fill price
// from the reported fills.
func (e *BinanceExchange) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.FillResult, error) {
	svc := e.client.NewCreateOrderService().
		Symbol(e.pair(req.Symbol)).
		Type(binance.OrderTypeMarket).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	if req.Side == models.Buy {
		if req.QuoteAmount <= 0 {
			return nil, &models.APIError{Status: 400, Msg: "quote amount required for BUY"}
		}
		svc = svc.Side(binance.SideTypeBuy).
			QuoteOrderQty(fmt.Sprintf("%.2f", req.QuoteAmount))
	} else {
		if req.BaseAmount <= 0 {
			return nil, &models.APIError{Status: 400, Msg: "base amount required for SELL"}
		}
		svc = svc.Side(binance.SideTypeSell).
			Quantity(strconv.FormatFloat(req.BaseAmount, 'f', -1, 64))
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, translateError(err)
	}

	executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	quoteSpent, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)

	fill := &models.FillResult{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Amount:     executed,
		QuoteSpent: quoteSpent,
		OrderID:    strconv.FormatInt(order.OrderID, 10),
	}
	if executed > 0 && quoteSpent > 0 {
		fill.Price = quoteSpent / executed
	} else if len(order.Fills) > 0 {
		var qty, quote float64
		for _, f := range order.Fills {
			p, _ := strconv.ParseFloat(f.Price, 64)
			q, _ := strconv.ParseFloat(f.Quantity, 64)
			qty += q
			quote += p * q
		}
		if qty > 0 {
			fill.Amount = qty
			fill.QuoteSpent = quote
			fill.Price = quote / qty
		}
	}
	if fill.Price == 0 {
		fill.Price = req.PriceHint
	}
	return fill, nil
}

// Close releases network resources. The SDK client needs none.
func (e *BinanceExchange) Close() error { return nil }
