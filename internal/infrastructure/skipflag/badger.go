package skipflag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore persists flags in an embedded badger database so they survive
// a restart. Badger expires entries with one-second resolution.
type BadgerStore struct {
	db *badger.DB
}

var _ ports.SkipFlagStore = (*BadgerStore)(nil)

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	return openBadger(opts)
}

// NewInMemoryBadgerStore is backed by a badger instance that never touches
// disk.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func flagKey(key string) []byte {
	return []byte("skip:" + key)
}

func (s *BadgerStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	set := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(flagKey(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.SetEntry(badger.NewEntry(flagKey(key), []byte{1}).WithTTL(ttl)); err != nil {
			return err
		}
		set = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		// another writer claimed the key in the same window
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set skip flag %s: %w", key, err)
	}
	return set, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
