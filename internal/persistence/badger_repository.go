package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"spot-dca-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// Key layout:
//
//	state/<symbol>                 TradingState JSON
//	price/<symbol>/<nanos>         PricePoint JSON, zero-padded timestamp
//	trade/<symbol>/<nanos>         TradeRecord JSON
//	cmd/<millis>/<id>              ManualCommand JSON
//	balances                       currency -> amount JSON
//
// Zero-padded timestamps make lexicographic key order equal to time order,
// so prefix iteration yields history oldest first.
type badgerRepository struct {
	db *badger.DB
}

var balancesKey = []byte("balances")

// NewBadgerRepository opens a BadgerDB database at dbPath and returns a
// repository backed by it.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noisy; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerRepository{db: db}, nil
}

func stateKey(symbol string) []byte {
	return []byte("state/" + symbol)
}

func pricePrefix(symbol string) []byte {
	return []byte("price/" + symbol + "/")
}

func priceKey(point models.PricePoint) []byte {
	return []byte(fmt.Sprintf("price/%s/%020d", point.Symbol, point.Timestamp.UnixNano()))
}

func tradePrefix(symbol string) []byte {
	if symbol == "" {
		return []byte("trade/")
	}
	return []byte("trade/" + symbol + "/")
}

func tradeKey(trade *models.TradeRecord) []byte {
	return []byte(fmt.Sprintf("trade/%s/%020d", trade.Symbol, trade.Timestamp.UnixNano()))
}

func commandKey(cmd *models.ManualCommand) []byte {
	return []byte(fmt.Sprintf("cmd/%020d/%s", cmd.Timestamp.UnixMilli(), cmd.ID))
}

func (r *badgerRepository) SaveTradingState(state *models.TradingState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(state.Symbol), data)
	})
}

func (r *badgerRepository) LoadTradingStates() (map[string]*models.TradingState, error) {
	states := make(map[string]*models.TradingState)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("state/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var state models.TradingState
				if err := json.Unmarshal(val, &state); err != nil {
					return err
				}
				states[state.Symbol] = &state
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (r *badgerRepository) AppendPricePoint(point models.PricePoint) error {
	data, err := json.Marshal(point)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(priceKey(point), data)
	})
}

func (r *badgerRepository) LoadPriceHistory(symbol string, limit int) ([]models.PricePoint, error) {
	var points []models.PricePoint
	prefix := pricePrefix(symbol)

	err := r.db.View(func(txn *badger.Txn) error {
		// Iterate newest first so the limit can cut off early, then reverse.
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.Valid(); it.Next() {
			if limit > 0 && len(points) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var point models.PricePoint
				if err := json.Unmarshal(val, &point); err != nil {
					return err
				}
				points = append(points, point)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

func (r *badgerRepository) PrunePriceHistory(symbol string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	prefix := pricePrefix(symbol)

	return r.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)

		var seen int
		var stale [][]byte
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.Valid(); it.Next() {
			seen++
			if seen > keep {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *badgerRepository) AppendTrade(trade *models.TradeRecord) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tradeKey(trade), data)
	})
}

func (r *badgerRepository) LoadTrades(symbol string) ([]models.TradeRecord, error) {
	var trades []models.TradeRecord
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tradePrefix(symbol)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var trade models.TradeRecord
				if err := json.Unmarshal(val, &trade); err != nil {
					return err
				}
				trades = append(trades, trade)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

func (r *badgerRepository) EnqueueCommand(cmd *models.ManualCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(commandKey(cmd), data)
	})
}

// PendingCommands returns unexecuted commands in timestamp order. They are
// marked executed inside the same transaction: a command is consumed exactly
// once, even when the cycle that picked it up fails later.
func (r *badgerRepository) PendingCommands() ([]models.ManualCommand, error) {
	var pending []models.ManualCommand
	err := r.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("cmd/")
		it := txn.NewIterator(opts)

		type marked struct {
			key []byte
			cmd models.ManualCommand
		}
		var toMark []marked

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			err := it.Item().Value(func(val []byte) error {
				var cmd models.ManualCommand
				if err := json.Unmarshal(val, &cmd); err != nil {
					return err
				}
				if cmd.Executed {
					return nil
				}
				pending = append(pending, cmd)
				cmd.Executed = true
				toMark = append(toMark, marked{key: key, cmd: cmd})
				return nil
			})
			if err != nil {
				it.Close()
				return err
			}
		}
		// Writes in the same txn must wait until the iterator is closed.
		it.Close()

		for _, m := range toMark {
			data, err := json.Marshal(m.cmd)
			if err != nil {
				return err
			}
			if err := txn.Set(m.key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func (r *badgerRepository) SaveBalances(balances map[string]float64) error {
	data, err := json.Marshal(balances)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(balancesKey, data)
	})
}

func (r *badgerRepository) LoadBalances() (map[string]float64, error) {
	var balances map[string]float64
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(balancesKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &balances)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (r *badgerRepository) Close() error {
	return r.db.Close()
}
