package statemanager

import (
	"fmt"
	"sync"
	"time"

	"spot-dca-bot-go/internal/models"
	"spot-dca-bot-go/internal/persistence"

	"go.uber.org/zap"
)

// Store owns the per-symbol trading states. All mutations go through Mutate
// so they are serialized per store; readers only ever see deep copies.
type Store struct {
	mu              sync.Mutex
	states          map[string]*models.TradingState
	repo            persistence.StateRepository
	persistFailures int
	logger          *zap.SugaredLogger
}

// NewStore creates an empty store backed by repo. Call LoadAll before the
// first cycle to restore persisted state.
func NewStore(repo persistence.StateRepository, logger *zap.SugaredLogger) *Store {
	return &Store{
		states: make(map[string]*models.TradingState),
		repo:   repo,
		logger: logger,
	}
}

// LoadAll restores all persisted symbol states. When resetTrail is set the
// peak and trough anchors are cleared so trailing logic re-arms from the
// next observed price instead of a stale pre-restart extreme.
func (s *Store) LoadAll(resetTrail bool) error {
	states, err := s.repo.LoadTradingStates()
	if err != nil {
		return fmt.Errorf("load trading states: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, state := range states {
		if resetTrail {
			state.PeakPrice = 0
			state.TroughPrice = 0
		}
		s.states[symbol] = state
	}
	s.logger.Infof("restored state for %d symbol(s)", len(states))
	return nil
}

// Ensure returns the state for symbol, creating it anchored at price on the
// first observation.
func (s *Store) Ensure(symbol string, price float64, now time.Time) *models.TradingState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[symbol]
	if !ok {
		state = &models.TradingState{
			Symbol:       symbol,
			InitialPrice: price,
			PeakPrice:    price,
			TroughPrice:  price,
			LastActionAt: now,
		}
		s.states[symbol] = state
		s.logger.Infof("initialized state for %s at %.8f", symbol, price)
	}
	return deepCopy(state)
}

// Get returns a snapshot of the state for symbol, or nil when unknown.
func (s *Store) Get(symbol string) *models.TradingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[symbol]
	if !ok {
		return nil
	}
	return deepCopy(state)
}

// Mutate applies fn to the live state for symbol under the store lock. The
// state must already exist (Ensure runs first in every cycle).
func (s *Store) Mutate(symbol string, fn func(*models.TradingState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[symbol]
	if !ok {
		return
	}
	fn(state)
}

// Snapshot returns deep copies of all symbol states.
func (s *Store) Snapshot() map[string]*models.TradingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.TradingState, len(s.states))
	for symbol, state := range s.states {
		out[symbol] = deepCopy(state)
	}
	return out
}

// PersistAll writes every symbol state to the repository. A single failed
// cycle is tolerated with a warning since the next cycle will retry with
// fresher data; persistent failure is returned to the caller as fatal.
func (s *Store) PersistAll() error {
	snapshot := s.Snapshot()

	var firstErr error
	for _, state := range snapshot {
		if err := s.repo.SaveTradingState(state); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("save state for %s: %w", state.Symbol, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if firstErr == nil {
		s.persistFailures = 0
		return nil
	}
	s.persistFailures++
	if s.persistFailures == 1 {
		s.logger.Warnf("state persistence failed, retrying next cycle: %v", firstErr)
		return nil
	}
	return fmt.Errorf("state persistence failed %d cycles in a row: %w", s.persistFailures, firstErr)
}

// deepCopy clones a TradingState including its RSI history slice.
func deepCopy(state *models.TradingState) *models.TradingState {
	if state == nil {
		return nil
	}
	stateCopy := *state
	if state.RSIHistory != nil {
		stateCopy.RSIHistory = make([]float64, len(state.RSIHistory))
		copy(stateCopy.RSIHistory, state.RSIHistory)
	}
	return &stateCopy
}
