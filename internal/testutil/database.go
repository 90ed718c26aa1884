// Package testutil provides database helpers shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/Veraticus/tollkeeper/internal/service"
	"github.com/Veraticus/tollkeeper/internal/storage"
	"github.com/Veraticus/tollkeeper/internal/testutil/trips"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
	Trips   trips.Trips
}

// SetupTestDB creates a migrated in-memory database seeded with the given trips.
// The database is closed when the test ends.
func SetupTestDB(t *testing.T, seed trips.Trips) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{Trips: seed})
}

// SetupTestDBWithBuilder creates a test database seeded from a trip builder.
//
// Example:
//
//	db := testutil.SetupTestDBWithBuilder(t, func(b *trips.Builder) *trips.Builder {
//		return b.WithTrips(2, trips.LocationAllowed)
//	})
func SetupTestDBWithBuilder(t *testing.T, configure func(*trips.Builder) *trips.Builder) *TestDB {
	t.Helper()

	builder := trips.NewBuilder(t)
	if configure != nil {
		builder = configure(builder)
	}
	return SetupTestDB(t, builder.Build())
}

// WithTransaction executes fn within a transaction that is always rolled back.
func (db *TestDB) WithTransaction(fn func(tx service.Transaction) error) error {
	ctx := context.Background()
	tx, err := db.Storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	return fn(tx)
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, service.Storage) error
	Trips          trips.Trips
	SkipMigrations bool
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	ctx := context.Background()

	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	if len(opts.Trips) > 0 {
		if _, err := store.BulkInsert(ctx, opts.Trips); err != nil {
			t.Fatalf("failed to seed trips: %v", err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return &TestDB{
		Storage: store,
		Trips:   opts.Trips,
		t:       t,
	}
}
