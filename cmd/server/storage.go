package main

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/downtime/internal/cfg"
	"github.com/linnemanlabs/downtime/internal/postgres"
	"github.com/linnemanlabs/downtime/internal/savecell"
	"github.com/linnemanlabs/downtime/internal/savecell/badgerstore"
	"github.com/linnemanlabs/downtime/internal/savecell/pgstore"
)

// incidentKey names the incident slot document in keyed backends.
const incidentKey = "incident"

// openStorage builds the configured saved state backend. It returns the
// storage, the key the incident slot lives under and a close function that
// must run after the cell is closed.
func openStorage(ctx context.Context, c vc.Config, L log.Logger) (savecell.Storage, string, func(), error) {
	switch c.StateBackend {
	case vc.BackendPostgres:
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, "", nil, fmt.Errorf("postgres pool: %w", err)
		}
		store, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, "", nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres state store")
		return store, incidentKey, pool.Close, nil

	case vc.BackendBadger:
		store, err := badgerstore.Open(badgerstore.Config{Dir: c.BadgerDir, SyncWrites: true, Logger: L})
		if err != nil {
			return nil, "", nil, fmt.Errorf("badgerstore init: %w", err)
		}
		L.Info(ctx, "using badger state store", "dir", c.BadgerDir)
		return store, incidentKey, func() {
			if err := store.Close(); err != nil {
				L.Error(context.Background(), err, "failed to close badger")
			}
		}, nil

	default:
		L.Info(ctx, "using file state store", "path", c.StatePath)
		return savecell.FileStorage{}, c.StatePath, func() {}, nil
	}
}
