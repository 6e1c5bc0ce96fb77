package models

import (
	"fmt"
	"time"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Config holds the full bot configuration loaded from the JSON config file.
// Per-symbol settings live in Coins; secrets come from the environment.
type Config struct {
	Exchange            ExchangeConfig        `json:"exchange"`
	DBPath              string                `json:"db_path"`
	PollingIntervalSec  int                   `json:"polling_interval"`
	BuyPercentage       float64               `json:"buy_percentage"`  // % of quote balance spent per BUY
	SellPercentage      float64               `json:"sell_percentage"` // % of base balance sold per SELL
	RetryAttempts       int                   `json:"retry_attempts"`
	RetryInitialDelayMs int                   `json:"retry_initial_delay_ms"`
	RequestTimeoutSec   int                   `json:"request_timeout_sec"`
	TrailResetOnRestart bool                  `json:"trail_reset_on_restart"`
	SeedHistory         bool                  `json:"seed_history"`
	NoDataWarnCycles    int                   `json:"no_data_warn_cycles"`
	Telegram            TelegramConfig        `json:"telegram"`
	Log                 LogConfig             `json:"log"`
	Coins               map[string]CoinConfig `json:"coins"`
}

// ExchangeConfig selects and parameterizes the exchange connector.
type ExchangeConfig struct {
	Name          string `json:"name"` // "binance", "mexc" or "paper"
	QuoteCurrency string `json:"quote_currency"`
	BaseURL       string `json:"base_url,omitempty"`
	WSBaseURL     string `json:"ws_base_url,omitempty"`
	UseStream     bool   `json:"use_stream"`
	// Paper mode only: simulated starting quote balance.
	PaperBalance float64 `json:"paper_balance,omitempty"`
}

// TelegramConfig configures the notification sink.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// LogConfig defines logging configuration.
type LogConfig struct {
	Level      string `json:"level"`  // "debug", "info", "warn", "error"
	Output     string `json:"output"` // "console", "file", "both"
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

// CoinConfig holds the per-symbol trading parameters. It is read-only within
// a cycle and reloadable between cycles.
type CoinConfig struct {
	Enabled           bool    `json:"enabled"`
	BuyPercentage     float64 `json:"buy_percentage"`  // entry threshold on price change, %
	SellPercentage    float64 `json:"sell_percentage"` // take-profit threshold, %
	BuyOffsetPercent  float64 `json:"buy_offset_percent"`
	SellOffsetPercent float64 `json:"sell_offset_percent"`
	TrailPercent      float64 `json:"trail_percent"`
	RebuyDiscount     float64 `json:"rebuy_discount"`
	VolatilityWindow  int     `json:"volatility_window"`
	TrendWindow       int     `json:"trend_window"`
	MACDShortWindow   int     `json:"macd_short_window"`
	MACDLongWindow    int     `json:"macd_long_window"`
	MACDSignalWindow  int     `json:"macd_signal_window"`
	RSIPeriod         int     `json:"rsi_period"`
	MinOrderBuy       float64 `json:"min_order_buy"`  // quote units
	MinOrderSell      float64 `json:"min_order_sell"` // base units
	PricePrecision    int     `json:"precision_price"`
	AmountPrecision   int     `json:"precision_amount"`
	BuyCooldownSec    int     `json:"buy_cooldown_sec"`
}

// HistoryNeeded returns the minimum price history length required before the
// configured indicator set can be evaluated for this symbol.
func (c CoinConfig) HistoryNeeded() int {
	macd := c.MACDLongWindow + c.MACDSignalWindow
	rsi := c.RSIPeriod + 1
	if macd > rsi {
		return macd
	}
	return rsi
}

// PricePoint is one observed price for a symbol. Per-symbol sequences are
// append-only with strictly increasing timestamps.
type PricePoint struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// TradingState is the per-symbol mutable state. It is created on the first
// observed price, mutated by the decision engine (peak/trough, streaks) and
// by the order executor (trade fields, after confirmed fills only), and
// persisted after each cycle.
type TradingState struct {
	Symbol          string    `json:"symbol"`
	InitialPrice    float64   `json:"initial_price"`
	PeakPrice       float64   `json:"peak_price"`
	TroughPrice     float64   `json:"trough_price"`
	RisingStreak    int       `json:"rising_streak"`
	FallingStreak   int       `json:"falling_streak"`
	AverageBuyPrice float64   `json:"average_buy_price"` // 0 means no open position
	PositionAmount  float64   `json:"position_amount"`   // confirmed base amount held
	TotalTrades     int       `json:"total_trades"`
	TotalProfit     float64   `json:"total_profit"`
	LastActionAt    time.Time `json:"last_action_timestamp"`
	LastBuyAt       time.Time `json:"last_buy_timestamp"`
	PreviousPrice   float64   `json:"previous_price"`
	RSIHistory      []float64 `json:"rsi_history"`
	MACDBuyConfirm  int       `json:"macd_buy_confirm"`
	MACDSellConfirm int       `json:"macd_sell_confirm"`
}

// HasPosition reports whether there is an open position for the symbol.
func (s *TradingState) HasPosition() bool {
	return s.AverageBuyPrice > 0 && s.PositionAmount > 0
}

// OrderRequest describes a market order handed to an exchange connector.
// BUY orders are sized in quote currency, SELL orders in base currency.
type OrderRequest struct {
	Symbol        string
	Side          Side
	BaseAmount    float64
	QuoteAmount   float64
	PriceHint     float64
	ClientOrderID string
}

// FillResult is the confirmed outcome of a market order.
type FillResult struct {
	Symbol     string
	Side       Side
	Price      float64 // average fill price
	Amount     float64 // filled base amount
	QuoteSpent float64
	OrderID    string
}

// TradeRecord is one confirmed trade appended to the durable trade log.
type TradeRecord struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
	Profit    float64   `json:"profit,omitempty"` // realized, SELL only
	Timestamp time.Time `json:"timestamp"`
}

// ManualCommand is an operator-issued override consumed at most once.
type ManualCommand struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Action    Side      `json:"action"`
	Amount    float64   `json:"amount,omitempty"` // 0 means use configured sizing
	Timestamp time.Time `json:"timestamp"`
	Executed  bool      `json:"executed"`
}

// APIError is an error response from an exchange API.
type APIError struct {
	Status int    `json:"status"`
	Code   int64  `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

// Transient reports whether the error is worth retrying: rate limits and
// 5xx-class failures are transient, validation/4xx-class failures are not.
func (e *APIError) Transient() bool {
	if e.Status == 429 || e.Status == 418 {
		return true
	}
	return e.Status >= 500
}
