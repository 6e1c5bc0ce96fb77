// Package scheduler drives the trading loop: every polling interval it fans
// out price fetches, drains manual commands, then walks the symbols
// sequentially through the decision engine and the executor, and persists
// the results.
package scheduler

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"spot-dca-bot-go/internal/engine"
	"spot-dca-bot-go/internal/exchange"
	"spot-dca-bot-go/internal/executor"
	"spot-dca-bot-go/internal/models"
	"spot-dca-bot-go/internal/notifier"
	"spot-dca-bot-go/internal/persistence"
	"spot-dca-bot-go/internal/reporter"
	"spot-dca-bot-go/internal/statemanager"

	"go.uber.org/zap"
)

const historyRetentionMargin = 50

// Scheduler owns one trading loop for one exchange account.
type Scheduler struct {
	cfg      *models.Config
	coins    map[string]models.CoinConfig
	symbols  []string
	ex       exchange.Exchange
	feed     *exchange.PriceFeed
	store    *statemanager.Store
	repo     persistence.StateRepository
	engine   *engine.DecisionEngine
	executor *executor.Executor
	notifier notifier.Notifier
	logger   *zap.SugaredLogger

	history      map[string][]float64
	noDataCycles map[string]int
	retention    int
}

// New wires a scheduler. coins must already be validated; feed may be nil
// when streaming is disabled.
func New(
	cfg *models.Config,
	coins map[string]models.CoinConfig,
	ex exchange.Exchange,
	feed *exchange.PriceFeed,
	store *statemanager.Store,
	repo persistence.StateRepository,
	eng *engine.DecisionEngine,
	exec *executor.Executor,
	n notifier.Notifier,
	logger *zap.SugaredLogger,
) *Scheduler {
	symbols := make([]string, 0, len(coins))
	retention := engine.LongTermMAPeriod
	for symbol, coin := range coins {
		symbols = append(symbols, symbol)
		if n := coin.HistoryNeeded(); n > retention {
			retention = n
		}
		if coin.TrendWindow+1 > retention {
			retention = coin.TrendWindow + 1
		}
		if coin.VolatilityWindow > retention {
			retention = coin.VolatilityWindow
		}
	}
	// Stable evaluation order keeps logs and shared-balance effects
	// reproducible run to run.
	sort.Strings(symbols)

	return &Scheduler{
		cfg:          cfg,
		coins:        coins,
		symbols:      symbols,
		ex:           ex,
		feed:         feed,
		store:        store,
		repo:         repo,
		engine:       eng,
		executor:     exec,
		notifier:     n,
		logger:       logger,
		history:      make(map[string][]float64),
		noDataCycles: make(map[string]int),
		retention:    retention + historyRetentionMargin,
	}
}

// LoadHistory restores the in-memory price windows from the repository.
func (s *Scheduler) LoadHistory() error {
	for _, symbol := range s.symbols {
		points, err := s.repo.LoadPriceHistory(symbol, s.retention)
		if err != nil {
			return err
		}
		prices := make([]float64, 0, len(points))
		for _, p := range points {
			prices = append(prices, p.Price)
		}
		s.history[symbol] = prices
		s.logger.Infof("%s: restored %d price points", symbol, len(prices))
	}
	return nil
}

// Run blocks until ctx is cancelled, executing one cycle per polling
// interval. A slow cycle delays the next tick instead of overlapping it.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.PollingIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Infof("scheduler started: %d symbol(s), interval %s", len(s.symbols), interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				return err
			}
		}
	}
}

// runCycle performs one full evaluation pass. Only a persistent state-store
// failure is returned as fatal; everything else degrades per symbol.
func (s *Scheduler) runCycle(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.requestTimeout())
	balances, err := s.ex.GetBalances(cctx)
	cancel()
	if err != nil {
		s.logger.Warnf("cycle skipped: balances unavailable: %v", err)
		return nil
	}
	if err := s.repo.SaveBalances(balances); err != nil {
		s.logger.Warnf("balance snapshot not persisted: %v", err)
	}

	prices := s.fetchPrices(ctx)

	commands, err := s.repo.PendingCommands()
	if err != nil {
		s.logger.Warnf("manual commands unavailable this cycle: %v", err)
	}
	manualBySymbol := s.applyManualCommands(ctx, commands, prices, balances)

	now := time.Now()
	var rows []reporter.CycleRow
	for _, symbol := range s.symbols {
		if _, hadManual := manualBySymbol[symbol]; hadManual {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		if row := s.evaluateSymbol(ctx, symbol, price, balances, nil, now); row != nil {
			rows = append(rows, *row)
		}
	}
	reporter.RenderCycle(os.Stdout, s.ex.QuoteCurrency(), rows)

	return s.store.PersistAll()
}

// fetchPrices fans out one price lookup per symbol. A fresh streamed price
// short-circuits the REST call; failures drop the symbol for this cycle.
func (s *Scheduler) fetchPrices(ctx context.Context) map[string]float64 {
	freshFor := 2 * time.Duration(s.cfg.PollingIntervalSec) * time.Second

	var mu sync.Mutex
	prices := make(map[string]float64, len(s.symbols))
	var wg sync.WaitGroup

	for _, symbol := range s.symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			if s.feed != nil {
				if price, at, ok := s.feed.Latest(symbol); ok && time.Since(at) < freshFor {
					mu.Lock()
					prices[symbol] = price
					mu.Unlock()
					return
				}
			}

			cctx, cancel := context.WithTimeout(ctx, s.requestTimeout())
			price, err := s.ex.GetPrice(cctx, symbol)
			cancel()
			if err != nil {
				s.logger.Warnf("%s: no price data this cycle: %v", symbol, err)
				return
			}
			mu.Lock()
			prices[symbol] = price
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return prices
}

// applyManualCommands runs all pending commands in global timestamp order,
// before any computed signal. Returns the symbols that had a command.
func (s *Scheduler) applyManualCommands(
	ctx context.Context,
	commands []models.ManualCommand,
	prices map[string]float64,
	balances map[string]float64,
) map[string]struct{} {
	handled := make(map[string]struct{})
	sort.SliceStable(commands, func(i, j int) bool {
		return commands[i].Timestamp.Before(commands[j].Timestamp)
	})

	for i := range commands {
		cmd := commands[i]
		if _, enabled := s.coins[cmd.Symbol]; !enabled {
			s.logger.Warnf("manual %s for unknown symbol %s ignored", cmd.Action, cmd.Symbol)
			continue
		}
		price, ok := prices[cmd.Symbol]
		if !ok {
			s.logger.Warnf("manual %s for %s dropped: no price this cycle", cmd.Action, cmd.Symbol)
			continue
		}
		handled[cmd.Symbol] = struct{}{}
		s.evaluateSymbol(ctx, cmd.Symbol, price, balances, &cmd, time.Now())
	}
	return handled
}

// evaluateSymbol runs decide/execute for one symbol and returns its report
// row, or nil when the symbol was skipped entirely.
func (s *Scheduler) evaluateSymbol(
	ctx context.Context,
	symbol string,
	price float64,
	balances map[string]float64,
	manual *models.ManualCommand,
	now time.Time,
) *reporter.CycleRow {
	cfg := s.coins[symbol]
	history := s.history[symbol]

	// An unchanged price carries no signal; manual commands still go through.
	if manual == nil && len(history) > 0 && price == history[len(history)-1] {
		s.logger.Debugf("%s: price unchanged (%.8f), skipping", symbol, price)
		return nil
	}

	history = append(history, price)
	if len(history) > s.retention {
		history = history[len(history)-s.retention:]
	}
	s.history[symbol] = history

	point := models.PricePoint{Symbol: symbol, Timestamp: now, Price: price}
	if err := s.repo.AppendPricePoint(point); err != nil {
		s.logger.Warnf("%s: price point not persisted: %v", symbol, err)
	} else if err := s.repo.PrunePriceHistory(symbol, s.retention); err != nil {
		s.logger.Warnf("%s: price history prune failed: %v", symbol, err)
	}

	result := s.engine.Evaluate(cfg, symbol, price, history, balances, s.ex.QuoteCurrency(), manual, now)
	s.trackDataWarnings(ctx, symbol, result.HoldReason)

	action := "HOLD"
	if result.Decision != nil {
		action = string(result.Decision.Side)
		if err := s.executor.Execute(ctx, cfg, result.Decision, balances); err != nil {
			action = "HOLD"
			switch {
			case errors.Is(err, models.ErrInsufficientBalance):
				s.logger.Infof("%s: order skipped: %v", symbol, err)
			default:
				s.logger.Warnf("%s: order failed: %v", symbol, err)
			}
		}
	} else if result.HoldReason != "" {
		s.logger.Debugf("%s: holding: %s", symbol, result.HoldReason)
	}

	state := s.store.Get(symbol)
	if state == nil {
		return nil
	}
	row := &reporter.CycleRow{
		Symbol:   symbol,
		Price:    price,
		Peak:     state.PeakPrice,
		Position: state.PositionAmount,
		AvgBuy:   state.AverageBuyPrice,
		Trades:   state.TotalTrades,
		Profit:   state.TotalProfit,
		Action:   action,
	}
	if state.InitialPrice > 0 {
		row.ChangePct = (price - state.InitialPrice) / state.InitialPrice * 100
	}
	if state.PeakPrice > 0 {
		row.TrailStop = state.PeakPrice * (1 - cfg.TrailPercent/100)
	}
	return row
}

// trackDataWarnings notifies once per sustained insufficient-data stretch.
func (s *Scheduler) trackDataWarnings(ctx context.Context, symbol, holdReason string) {
	if !strings.HasPrefix(holdReason, "Not enough data") {
		s.noDataCycles[symbol] = 0
		return
	}
	s.noDataCycles[symbol]++
	if s.noDataCycles[symbol] == s.cfg.NoDataWarnCycles {
		msg := notifier.FormatDataWarning(symbol, s.noDataCycles[symbol])
		s.logger.Warn(msg)
		if err := s.notifier.Notify(ctx, msg); err != nil {
			s.logger.Warnf("%s: data warning notification failed: %v", symbol, err)
		}
		s.noDataCycles[symbol] = 0
	}
}

// requestTimeout is the per-call deadline for exchange requests.
func (s *Scheduler) requestTimeout() time.Duration {
	return time.Duration(s.cfg.RequestTimeoutSec) * time.Second
}
