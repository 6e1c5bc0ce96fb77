package persistence

import (
	"sort"
	"sync"

	"spot-dca-bot-go/internal/models"
)

// MemoryRepository is an in-memory StateRepository. It backs tests and paper
// trading runs where durability does not matter.
type MemoryRepository struct {
	mu       sync.Mutex
	states   map[string]*models.TradingState
	prices   map[string][]models.PricePoint
	trades   []models.TradeRecord
	commands []models.ManualCommand
	balances map[string]float64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		states: make(map[string]*models.TradingState),
		prices: make(map[string][]models.PricePoint),
	}
}

func (r *MemoryRepository) SaveTradingState(state *models.TradingState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stateCopy := *state
	stateCopy.RSIHistory = append([]float64(nil), state.RSIHistory...)
	r.states[state.Symbol] = &stateCopy
	return nil
}

func (r *MemoryRepository) LoadTradingStates() (map[string]*models.TradingState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*models.TradingState, len(r.states))
	for symbol, state := range r.states {
		stateCopy := *state
		stateCopy.RSIHistory = append([]float64(nil), state.RSIHistory...)
		out[symbol] = &stateCopy
	}
	return out, nil
}

func (r *MemoryRepository) AppendPricePoint(point models.PricePoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[point.Symbol] = append(r.prices[point.Symbol], point)
	return nil
}

func (r *MemoryRepository) LoadPriceHistory(symbol string, limit int) ([]models.PricePoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	points := r.prices[symbol]
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	return append([]models.PricePoint(nil), points...), nil
}

func (r *MemoryRepository) PrunePriceHistory(symbol string, keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	points := r.prices[symbol]
	if keep >= 0 && len(points) > keep {
		r.prices[symbol] = append([]models.PricePoint(nil), points[len(points)-keep:]...)
	}
	return nil
}

func (r *MemoryRepository) AppendTrade(trade *models.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, *trade)
	return nil
}

func (r *MemoryRepository) LoadTrades(symbol string) ([]models.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TradeRecord
	for _, trade := range r.trades {
		if symbol == "" || trade.Symbol == symbol {
			out = append(out, trade)
		}
	}
	return out, nil
}

func (r *MemoryRepository) EnqueueCommand(cmd *models.ManualCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, *cmd)
	return nil
}

func (r *MemoryRepository) PendingCommands() ([]models.ManualCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []models.ManualCommand
	for i := range r.commands {
		if !r.commands[i].Executed {
			pending = append(pending, r.commands[i])
			r.commands[i].Executed = true
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})
	return pending, nil
}

func (r *MemoryRepository) SaveBalances(balances map[string]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances = make(map[string]float64, len(balances))
	for k, v := range balances {
		r.balances[k] = v
	}
	return nil
}

func (r *MemoryRepository) LoadBalances() (map[string]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances == nil {
		return nil, nil
	}
	out := make(map[string]float64, len(r.balances))
	for k, v := range r.balances {
		out[k] = v
	}
	return out, nil
}

func (r *MemoryRepository) Close() error { return nil }
