package infrastructure

import (
	"errors"
	"fmt"
	"time"

	"live-presenter/internal/domain"

	"github.com/dgraph-io/badger/v3"
)

// DefaultHandoffTTL bounds how long a presentation payload stays readable.
const DefaultHandoffTTL = 6 * time.Hour

// BadgerHandoff is an in-memory badger store for presentation payloads.
// Nothing is written to disk; entries expire after the configured TTL.
type BadgerHandoff struct {
	db  *badger.DB
	ttl time.Duration
}

func NewBadgerHandoff(ttl time.Duration) (*BadgerHandoff, error) {
	if ttl <= 0 {
		ttl = DefaultHandoffTTL
	}
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open handoff store: %w", err)
	}
	return &BadgerHandoff{db: db, ttl: ttl}, nil
}

func (h *BadgerHandoff) Put(key string, value []byte) error {
	err := h.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(h.ttl))
	})
	if err != nil {
		return domain.NewError(domain.KindState, "store presentation", err)
	}
	return nil
}

func (h *BadgerHandoff) Get(key string) ([]byte, error) {
	var out []byte
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.Errorf(domain.KindState, "load presentation", "presentation data not found or expired")
	}
	if err != nil {
		return nil, domain.NewError(domain.KindState, "load presentation", err)
	}
	return out, nil
}

func (h *BadgerHandoff) Close() error {
	return h.db.Close()
}
