package config

import (
	"encoding/json"
	"fmt"
	"os"

	"spot-dca-bot-go/internal/models"
)

// LoadConfig loads the JSON configuration file and applies defaults.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.PollingIntervalSec <= 0 {
		cfg.PollingIntervalSec = 25
	}
	if cfg.BuyPercentage <= 0 {
		cfg.BuyPercentage = 20
	}
	if cfg.SellPercentage <= 0 {
		cfg.SellPercentage = 100
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryInitialDelayMs <= 0 {
		cfg.RetryInitialDelayMs = 500
	}
	if cfg.RequestTimeoutSec <= 0 {
		cfg.RequestTimeoutSec = 10
	}
	if cfg.NoDataWarnCycles <= 0 {
		cfg.NoDataWarnCycles = 20
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/bot_state"
	}
	if cfg.Exchange.QuoteCurrency == "" {
		cfg.Exchange.QuoteCurrency = "USDT"
	}
}

// Validate checks the global configuration. Per-symbol problems are not
// fatal; see ValidateCoin.
func Validate(cfg *models.Config) error {
	if cfg.Exchange.Name == "" {
		return fmt.Errorf("exchange.name is required")
	}
	if len(cfg.Coins) == 0 {
		return fmt.Errorf("at least one coin must be configured")
	}
	return nil
}

// ValidateCoin checks one symbol's settings. A failing symbol is excluded
// from trading for the run; other symbols are unaffected.
func ValidateCoin(symbol string, c models.CoinConfig) error {
	if c.VolatilityWindow <= 0 {
		return fmt.Errorf("%s: volatility_window must be positive", symbol)
	}
	if c.TrendWindow <= 0 {
		return fmt.Errorf("%s: trend_window must be positive", symbol)
	}
	if c.MACDShortWindow <= 0 || c.MACDLongWindow <= 0 || c.MACDSignalWindow <= 0 {
		return fmt.Errorf("%s: macd windows must be positive", symbol)
	}
	if c.MACDShortWindow >= c.MACDLongWindow {
		return fmt.Errorf("%s: macd_short_window must be smaller than macd_long_window", symbol)
	}
	if c.RSIPeriod <= 0 {
		return fmt.Errorf("%s: rsi_period must be positive", symbol)
	}
	if c.TrailPercent < 0 || c.TrailPercent >= 100 {
		return fmt.Errorf("%s: trail_percent must be in [0, 100)", symbol)
	}
	if c.RebuyDiscount < 0 || c.RebuyDiscount >= 100 {
		return fmt.Errorf("%s: rebuy_discount must be in [0, 100)", symbol)
	}
	if c.MinOrderBuy < 0 || c.MinOrderSell < 0 {
		return fmt.Errorf("%s: minimum order sizes must not be negative", symbol)
	}
	if c.PricePrecision < 0 || c.AmountPrecision < 0 {
		return fmt.Errorf("%s: precisions must not be negative", symbol)
	}
	return nil
}

// EnabledCoins returns the symbols eligible for trading this run: enabled in
// config and passing validation. Invalid symbols are reported through the
// returned map of errors.
func EnabledCoins(cfg *models.Config) (map[string]models.CoinConfig, map[string]error) {
	coins := make(map[string]models.CoinConfig)
	invalid := make(map[string]error)
	for symbol, c := range cfg.Coins {
		if !c.Enabled {
			continue
		}
		if c.TrailPercent == 0 {
			c.TrailPercent = 0.5
		}
		if c.BuyCooldownSec == 0 {
			c.BuyCooldownSec = 120
		}
		if err := ValidateCoin(symbol, c); err != nil {
			invalid[symbol] = err
			continue
		}
		coins[symbol] = c
	}
	return coins, invalid
}
