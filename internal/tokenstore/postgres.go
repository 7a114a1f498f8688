package tokenstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const createTokensTable = `
CREATE TABLE IF NOT EXISTS sanitizer_tokens (
	namespace   text NOT NULL,
	fingerprint text NOT NULL,
	token       text NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, fingerprint)
)`

const upsertToken = `
INSERT INTO sanitizer_tokens (namespace, fingerprint, token)
VALUES ($1, $2, $3)
ON CONFLICT (namespace, fingerprint)
DO UPDATE SET token = sanitizer_tokens.token
RETURNING token`

// PostgresStore is a Store backed by Postgres with synchronous
// persistence: every mint is durable before GetOrCreate returns. Meant
// for compliance-grade deployments where losing a minted mapping is not
// acceptable; the batched FileStore is the default elsewhere.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres connects to the given DSN and ensures the token table
// exists.
func NewPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect token store database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTokensTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create token table: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// GetOrCreate implements Store. The upsert keeps the first-written token
// on conflict, so concurrent minters across processes converge on one
// token per fingerprint.
func (p *PostgresStore) GetOrCreate(ctx context.Context, namespace, fingerprint string) (string, error) {
	minted := Mint(namespace, fingerprint)

	var token string
	err := p.pool.QueryRow(ctx, upsertToken, namespace, fingerprint, minted).Scan(&token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFlush, err)
	}
	return token, nil
}

// Flush implements Store; persistence is synchronous so there is nothing
// pending.
func (p *PostgresStore) Flush(context.Context) error { return nil }

// Close releases the connection pool.
func (p *PostgresStore) Close(context.Context) error {
	p.pool.Close()
	return nil
}

// Len returns the number of persisted mappings, or 0 if the count query
// fails.
func (p *PostgresStore) Len() int {
	var n int
	err := p.pool.QueryRow(context.Background(), `SELECT count(*) FROM sanitizer_tokens`).Scan(&n)
	if err != nil {
		p.logger.Warn().Err(err).Msg("token count query failed")
		return 0
	}
	return n
}
