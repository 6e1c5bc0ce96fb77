package persistence

import "spot-dca-bot-go/internal/models"

// StateRepository defines the interface for durable bot storage. It abstracts
// the underlying store (BadgerDB in production, in-memory in tests) from the
// rest of the application.
type StateRepository interface {
	// SaveTradingState saves the state for one symbol atomically.
	SaveTradingState(state *models.TradingState) error

	// LoadTradingStates loads the states of all known symbols. Symbols with
	// no stored state are simply absent from the map.
	LoadTradingStates() (map[string]*models.TradingState, error)

	// AppendPricePoint appends one observed price to the symbol's history.
	AppendPricePoint(point models.PricePoint) error

	// LoadPriceHistory returns up to limit most recent price points for the
	// symbol, oldest first. limit <= 0 returns the full history.
	LoadPriceHistory(symbol string, limit int) ([]models.PricePoint, error)

	// PrunePriceHistory drops all but the keep most recent price points.
	PrunePriceHistory(symbol string, keep int) error

	// AppendTrade appends one confirmed trade to the trade log.
	AppendTrade(trade *models.TradeRecord) error

	// LoadTrades returns the trade log for a symbol, oldest first. An empty
	// symbol returns trades for all symbols.
	LoadTrades(symbol string) ([]models.TradeRecord, error)

	// EnqueueCommand stores a manual command for pickup on the next cycle.
	EnqueueCommand(cmd *models.ManualCommand) error

	// PendingCommands returns all unexecuted commands in timestamp order and
	// marks them executed in the same transaction, so each command is
	// consumed at most once even if the cycle fails afterwards.
	PendingCommands() ([]models.ManualCommand, error)

	// SaveBalances snapshots the last known exchange balances.
	SaveBalances(balances map[string]float64) error

	// LoadBalances returns the last snapshot, or nil when none exists.
	LoadBalances() (map[string]float64, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
