package exchange

import (
	"context"
	"fmt"
	"os"
	"strings"

	"spot-dca-bot-go/internal/models"

	"go.uber.org/zap"
)

// Exchange is the capability set every spot exchange connector must provide.
// Symbols are base currencies ("BTC"); the connector composes the trading
// pair with its configured quote currency.
type Exchange interface {
	Name() string
	QuoteCurrency() string
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetBalances(ctx context.Context) (map[string]float64, error)
	PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.FillResult, error)
	Close() error
}

// New selects and constructs a connector from configuration. API credentials
// are read from the environment, never from the config file.
func New(cfg models.ExchangeConfig, logger *zap.SugaredLogger) (Exchange, error) {
	switch strings.ToLower(cfg.Name) {
	case "binance":
		apiKey := os.Getenv("BINANCE_API_KEY")
		secretKey := os.Getenv("BINANCE_SECRET_KEY")
		if apiKey == "" || secretKey == "" {
			return nil, fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set")
		}
		return NewBinanceExchange(apiKey, secretKey, cfg.QuoteCurrency, logger), nil
	case "mexc":
		apiKey := os.Getenv("MEXC_API_KEY")
		secretKey := os.Getenv("MEXC_SECRET_KEY")
		if apiKey == "" || secretKey == "" {
			return nil, fmt.Errorf("MEXC_API_KEY and MEXC_SECRET_KEY must be set")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.mexc.com"
		}
		return NewMEXCExchange(apiKey, secretKey, baseURL, cfg.QuoteCurrency, logger), nil
	case "paper":
		balance := cfg.PaperBalance
		if balance <= 0 {
			balance = 10000
		}
		return NewPaperExchange(cfg.QuoteCurrency, balance), nil
	default:
		return nil, fmt.Errorf("unknown exchange name: %s", cfg.Name)
	}
}
