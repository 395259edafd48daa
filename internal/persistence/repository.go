package persistence

import (
	"fmt"

	"etf-trend-bot/internal/models"
)

// StateRepository defines the interface for state persistence.
// It abstracts the underlying storage mechanism (JSON file, BadgerDB, redis)
// from the rest of the application.
type StateRepository interface {
	// SaveState durably writes the whole state. It must not return before
	// the data is flushed.
	SaveState(state *models.PersistentState) error

	// LoadState loads the state from storage.
	// If no state is found, it returns (nil, nil).
	LoadState() (*models.PersistentState, error)

	// Close releases the underlying storage.
	Close() error
}

// Open selects the backend named by cfg.StateStore. StatePath is the file
// for "file" and the database directory for "badger".
func Open(cfg *models.Config) (StateRepository, error) {
	switch cfg.StateStore {
	case "file", "":
		return NewFileRepository(cfg.StatePath), nil
	case "badger":
		return NewBadgerRepository(cfg.StatePath)
	case "redis":
		return NewRedisRepository(cfg.Redis)
	}
	return nil, fmt.Errorf("unknown state store %q", cfg.StateStore)
}
