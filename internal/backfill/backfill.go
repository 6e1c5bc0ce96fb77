// Package backfill seeds a symbol's price history from exchange kline data,
// so indicators become available right after a fresh start instead of after
// hundreds of polling cycles.
package backfill

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"spot-dca-bot-go/internal/models"
	"spot-dca-bot-go/internal/persistence"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

const (
	klineInterval = "1m"
	// Binance caps a single klines request at 1000 rows.
	maxKlinesPerRequest = 1000
)

// Seeder fetches historical closes from the public Binance klines endpoint.
// The endpoint needs no API key, so seeding works for any configured
// exchange as long as the pair trades on Binance too.
type Seeder struct {
	client        *binance.Client
	repo          persistence.StateRepository
	quoteCurrency string
	logger        *zap.SugaredLogger
}

// NewSeeder creates a seeder writing into repo.
func NewSeeder(quoteCurrency string, repo persistence.StateRepository, logger *zap.SugaredLogger) *Seeder {
	return &Seeder{
		client:        binance.NewClient("", ""),
		repo:          repo,
		quoteCurrency: quoteCurrency,
		logger:        logger,
	}
}

// Seed fills the history for symbol up to needed points. Histories that
// already contain live points are left alone: price points are append-only
// with strictly increasing timestamps, and interleaving old klines behind
// live data would break that ordering.
func (s *Seeder) Seed(ctx context.Context, symbol string, needed int) error {
	if needed <= 0 {
		return nil
	}
	existing, err := s.repo.LoadPriceHistory(symbol, 1)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", symbol, err)
	}
	if len(existing) > 0 {
		s.logger.Debugf("%s: history already started, skipping backfill", symbol)
		return nil
	}

	limit := needed
	if limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}

	klines, err := s.client.NewKlinesService().
		Symbol(symbol + s.quoteCurrency).
		Interval(klineInterval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}

	var seeded int
	for _, k := range klines {
		price, err := strconv.ParseFloat(k.Close, 64)
		if err != nil || price <= 0 {
			continue
		}
		point := models.PricePoint{
			Symbol:    symbol,
			Timestamp: time.UnixMilli(k.CloseTime),
			Price:     price,
		}
		if err := s.repo.AppendPricePoint(point); err != nil {
			return fmt.Errorf("append seeded point for %s: %w", symbol, err)
		}
		seeded++
	}

	s.logger.Infof("%s: seeded %d historical price points", symbol, seeded)
	return nil
}
