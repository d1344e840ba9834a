package persist

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrate.sql
var migrateSQL string

// PostgresPersist backs the Store interface with a single key/value table,
// created by an embedded, idempotent "CREATE TABLE IF NOT EXISTS"
// migration run on connect.
type PostgresPersist struct {
	pool   *pgxpool.Pool
	dbName string
}

// ConnectPostgresPersist connects to dsn, runs the embedded migration, and
// returns a ready-to-use PostgresPersist.
func ConnectPostgresPersist(ctx context.Context, dsn string) (*PostgresPersist, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("persist(postgres): pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist(postgres): ping: %w", err)
	}
	if _, err := pool.Exec(ctx, migrateSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist(postgres): migrate: %w", err)
	}
	return &PostgresPersist{pool: pool, dbName: pool.Config().ConnConfig.Database}, nil
}

func (p *PostgresPersist) GetItem(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx, `SELECT value FROM afidb_items WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("persist(postgres): select %q: %w", name, err)
	}
	return value, true, nil
}

func (p *PostgresPersist) SetItem(ctx context.Context, name, value string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO afidb_items (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`, name, value)
	if err != nil {
		return fmt.Errorf("persist(postgres): upsert %q: %w", name, err)
	}
	return nil
}

func (p *PostgresPersist) Location() string { return p.dbName }

// Close releases the connection pool.
func (p *PostgresPersist) Close() { p.pool.Close() }
