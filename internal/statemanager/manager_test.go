package statemanager

import (
	"errors"
	"sync"
	"testing"
	"time"

	"spot-dca-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockStateRepository is a mock implementation of the StateRepository
// interface for testing.
type mockStateRepository struct {
	sync.Mutex
	savedStates map[string]*models.TradingState
	loadStates  map[string]*models.TradingState
	saveError   error
	saveCalls   int
}

func newMockStateRepository() *mockStateRepository {
	return &mockStateRepository{
		savedStates: make(map[string]*models.TradingState),
	}
}

func (m *mockStateRepository) SaveTradingState(state *models.TradingState) error {
	m.Lock()
	defer m.Unlock()
	m.saveCalls++
	if m.saveError != nil {
		return m.saveError
	}
	stateCopy := *state
	m.savedStates[state.Symbol] = &stateCopy
	return nil
}

func (m *mockStateRepository) LoadTradingStates() (map[string]*models.TradingState, error) {
	m.Lock()
	defer m.Unlock()
	return m.loadStates, nil
}

func (m *mockStateRepository) AppendPricePoint(models.PricePoint) error { return nil }
func (m *mockStateRepository) LoadPriceHistory(string, int) ([]models.PricePoint, error) {
	return nil, nil
}
func (m *mockStateRepository) PrunePriceHistory(string, int) error      { return nil }
func (m *mockStateRepository) AppendTrade(*models.TradeRecord) error    { return nil }
func (m *mockStateRepository) LoadTrades(string) ([]models.TradeRecord, error) {
	return nil, nil
}
func (m *mockStateRepository) EnqueueCommand(*models.ManualCommand) error { return nil }
func (m *mockStateRepository) PendingCommands() ([]models.ManualCommand, error) {
	return nil, nil
}
func (m *mockStateRepository) SaveBalances(map[string]float64) error { return nil }
func (m *mockStateRepository) LoadBalances() (map[string]float64, error) {
	return nil, nil
}
func (m *mockStateRepository) Close() error { return nil }

func newTestStore(repo *mockStateRepository) *Store {
	return NewStore(repo, zap.NewNop().Sugar())
}

func TestEnsureCreatesStateOnFirstPrice(t *testing.T) {
	store := newTestStore(newMockStateRepository())
	now := time.Now()

	state := store.Ensure("BTC", 50000, now)
	require.NotNil(t, state)
	assert.Equal(t, "BTC", state.Symbol)
	assert.Equal(t, 50000.0, state.InitialPrice)
	assert.Equal(t, 50000.0, state.PeakPrice)
	assert.Equal(t, 50000.0, state.TroughPrice)
	assert.False(t, state.HasPosition())

	// A second call must not re-anchor.
	again := store.Ensure("BTC", 60000, now.Add(time.Minute))
	assert.Equal(t, 50000.0, again.InitialPrice)
}

func TestSnapshotsAreDeepCopies(t *testing.T) {
	store := newTestStore(newMockStateRepository())
	store.Ensure("ETH", 3000, time.Now())
	store.Mutate("ETH", func(s *models.TradingState) {
		s.RSIHistory = []float64{40, 50, 60}
	})

	snapshot := store.Get("ETH")
	snapshot.RSIHistory[0] = 999
	snapshot.InitialPrice = 1

	fresh := store.Get("ETH")
	assert.Equal(t, 40.0, fresh.RSIHistory[0], "mutating a snapshot must not leak into the store")
	assert.Equal(t, 3000.0, fresh.InitialPrice)
}

func TestLoadAllResetsTrailAnchors(t *testing.T) {
	repo := newMockStateRepository()
	repo.loadStates = map[string]*models.TradingState{
		"BTC": {Symbol: "BTC", InitialPrice: 48000, PeakPrice: 52000, TroughPrice: 47000},
	}

	store := newTestStore(repo)
	require.NoError(t, store.LoadAll(true))

	state := store.Get("BTC")
	require.NotNil(t, state)
	assert.Equal(t, 48000.0, state.InitialPrice, "initial price survives a restart")
	assert.Zero(t, state.PeakPrice, "peak anchor resets when trail reset is on")
	assert.Zero(t, state.TroughPrice)
}

func TestLoadAllKeepsTrailAnchors(t *testing.T) {
	repo := newMockStateRepository()
	repo.loadStates = map[string]*models.TradingState{
		"BTC": {Symbol: "BTC", InitialPrice: 48000, PeakPrice: 52000, TroughPrice: 47000},
	}

	store := newTestStore(repo)
	require.NoError(t, store.LoadAll(false))

	state := store.Get("BTC")
	require.NotNil(t, state)
	assert.Equal(t, 52000.0, state.PeakPrice)
	assert.Equal(t, 47000.0, state.TroughPrice)
}

func TestPersistAllToleratesOneFailedCycle(t *testing.T) {
	repo := newMockStateRepository()
	store := newTestStore(repo)
	store.Ensure("BTC", 50000, time.Now())

	repo.saveError = errors.New("disk full")
	assert.NoError(t, store.PersistAll(), "first failure is tolerated")
	assert.Error(t, store.PersistAll(), "second consecutive failure is fatal")

	// Recovery clears the failure counter.
	repo.Lock()
	repo.saveError = nil
	repo.Unlock()
	assert.NoError(t, store.PersistAll())
	repo.Lock()
	repo.saveError = errors.New("disk full again")
	repo.Unlock()
	assert.NoError(t, store.PersistAll(), "counter restarts after a good cycle")
}

func TestPersistAllSavesEverySymbol(t *testing.T) {
	repo := newMockStateRepository()
	store := newTestStore(repo)
	store.Ensure("BTC", 50000, time.Now())
	store.Ensure("ETH", 3000, time.Now())
	store.Mutate("BTC", func(s *models.TradingState) {
		s.TotalTrades = 3
	})

	require.NoError(t, store.PersistAll())

	repo.Lock()
	defer repo.Unlock()
	require.Contains(t, repo.savedStates, "BTC")
	require.Contains(t, repo.savedStates, "ETH")
	assert.Equal(t, 3, repo.savedStates["BTC"].TotalTrades)
}
