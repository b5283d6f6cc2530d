package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metdatasystem/orders-relay/internal/relay"
)

// The subset of pgxpool.Pool used by the store.
type PostgresAPI interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Postgres keeps each table as a key/payload table with overwrite-on-conflict inserts.
type Postgres struct {
	db         PostgresAPI
	attributes []string

	mu      sync.Mutex
	created map[string]bool
}

func NewPostgres(db PostgresAPI, attributes ...string) *Postgres {
	return &Postgres{
		db:         db,
		attributes: attributes,
		created:    map[string]bool{},
	}
}

func NewDatabasePool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func (p *Postgres) Put(ctx context.Context, table string, item relay.Payload) error {
	key, err := itemKey(item, p.attributes)
	if err != nil {
		return err
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	if err := p.ensureTable(ctx, table); err != nil {
		return err
	}

	_, err = p.db.Exec(ctx, fmt.Sprintf(`
	INSERT INTO %s (key, payload, updated_at) VALUES ($1, $2, now())
	ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at;
	`, pgx.Identifier{table}.Sanitize()), key, data)

	return err
}

func (p *Postgres) ensureTable(ctx context.Context, table string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.created[table] {
		return nil
	}

	_, err := p.db.Exec(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		key text PRIMARY KEY,
		payload jsonb NOT NULL,
		updated_at timestamptz NOT NULL DEFAULT now()
	);
	`, pgx.Identifier{table}.Sanitize()))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	p.created[table] = true

	return nil
}
