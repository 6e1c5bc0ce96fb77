// Package notifier delivers trade events to an external sink. Delivery is
// best effort: a failed notification never blocks or fails the trading cycle.
package notifier

import (
	"context"
	"fmt"

	"spot-dca-bot-go/internal/models"
)

// Notifier is the outbound event sink.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// FormatFill renders the canonical trade message for a confirmed fill.
func FormatFill(fill *models.FillResult, pricePrecision int, quoteCurrency string) string {
	if fill.Side == models.Buy {
		return fmt.Sprintf("✅ BOUGHT %.4f %s at $%.*f %s",
			fill.Amount, fill.Symbol, pricePrecision, fill.Price, quoteCurrency)
	}
	return fmt.Sprintf("🚀 SOLD %.4f %s at $%.*f %s",
		fill.Amount, fill.Symbol, pricePrecision, fill.Price, quoteCurrency)
}

// FormatDataWarning renders the sustained insufficient-data warning.
func FormatDataWarning(symbol string, cycles int) string {
	return fmt.Sprintf("⚠️ %s: no tradable indicator data for %d consecutive cycles", symbol, cycles)
}
