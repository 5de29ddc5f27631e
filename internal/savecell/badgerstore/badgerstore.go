// Package badgerstore provides an embedded BadgerDB implementation of
// savecell.Storage for single-node deployments without PostgreSQL.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/downtime/internal/savecell"
)

// keyPrefix namespaces saved-state documents inside the database.
const keyPrefix = "savecell/"

// Config holds BadgerDB settings.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in RAM. Tests only.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	Logger log.Logger
}

// Store keeps saved-state documents in BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("badgerstore: dir is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the document for key, or savecell.ErrNotFound.
func (s *Store) Load(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", savecell.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return data, nil
}

// Store replaces the document for key.
func (s *Store) Store(_ context.Context, key string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), data)
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

// badgerLogger adapts log.Logger to badger.Logger. Debug output is dropped.
type badgerLogger struct {
	logger log.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(context.Background(), fmt.Errorf(format, args...), "badger error")
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)), "source", "badger")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)), "source", "badger")
}

func (l badgerLogger) Debugf(string, ...any) {}
