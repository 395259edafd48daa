package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"etf-trend-bot/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerStateKey holds the status document, encoded like the file backend.
const badgerStateKey = "status_us"

var errEmptyBadgerValue = errors.New("status value is empty")

type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens the badger directory at dir, creating it if needed.
// Writes are synced before SaveState returns.
func NewBadgerRepository(dir string) (StateRepository, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store %s: %w", dir, err)
	}
	return &badgerRepository{db: db}, nil
}

func (r *badgerRepository) SaveState(state *models.PersistentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerStateKey), data)
	})
}

// LoadState returns nil and no error when the key was never written.
func (r *badgerRepository) LoadState() (*models.PersistentState, error) {
	var raw []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerStateKey))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read badger status: %w", err)
	case len(raw) == 0:
		return nil, errEmptyBadgerValue
	}

	state := new(models.PersistentState)
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("decode badger status: %w", err)
	}
	state.Normalize()
	return state, nil
}

func (r *badgerRepository) Close() error {
	return r.db.Close()
}
