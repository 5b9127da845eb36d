//go:build integration

// Package testdb starts a throwaway Postgres for integration tests and
// applies the repository migrations to it. Tests that import it must
// carry the integration build tag so the default test run stays free of
// Docker.
package testdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type Env struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	URL       string
}

func Setup(ctx context.Context) (*Env, error) {
	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("checkout"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("testdb: failed to start postgres container: %w", err)
	}

	url, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, fmt.Errorf("testdb: failed to get connection string: %w", err)
	}

	if err := applyMigrations(url); err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, fmt.Errorf("testdb: failed to open pool: %w", err)
	}

	return &Env{Container: pgC, Pool: pool, URL: url}, nil
}

func (e *Env) Teardown(ctx context.Context) {
	e.Pool.Close()
	_ = e.Container.Terminate(ctx)
}

// TruncateAll resets every table between tests. Order does not matter
// because of CASCADE.
func (e *Env) TruncateAll(ctx context.Context) error {
	_, err := e.Pool.Exec(ctx, `
		TRUNCATE TABLE webhook_events, refunds, payments, inventory_reservations,
			order_lines, orders, cart_lines, carts, products CASCADE
	`)
	if err != nil {
		return fmt.Errorf("testdb: failed to truncate tables: %w", err)
	}
	return nil
}

func applyMigrations(url string) error {
	// golang-migrate selects its driver by URL scheme.
	migrateURL := "pgx5://" + strings.TrimPrefix(url, "postgres://")

	_, file, _, _ := runtime.Caller(0)
	migrationsPath := filepath.Join(filepath.Dir(file), "..", "..", "migrations")

	m, err := migrate.New("file://"+migrationsPath, migrateURL)
	if err != nil {
		return fmt.Errorf("testdb: failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("testdb: failed to apply migrations: %w", err)
	}

	return nil
}
