package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/log"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool      *pgxpool.Pool
	dimension int
	logger    zerolog.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects and pings. The dimension parameterises the chunk
// embedding column and must match the configured embedding model.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, dimension int) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{
		pool:      pool,
		dimension: dimension,
		logger:    log.WithComponent("store"),
	}, nil
}

// Migrate applies the idempotent schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema(p.dimension)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	p.logger.Info().Int("embedding_dimension", p.dimension).Msg("Schema applied")
	return nil
}

// Ping checks connectivity; the health checker calls it.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Pool exposes the connection pool for components that query the same
// database directly, such as the pgvector index.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Close implements Store.
func (p *Postgres) Close() {
	p.pool.Close()
}

func errorsIsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// itoa shortens positional-placeholder construction in dynamic queries.
func itoa(n int) string { return strconv.Itoa(n) }

// wrapErr translates driver errors into the sentinel taxonomy. what names
// the entity for the message; the sentinel is what callers branch on.
func wrapErr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, errdefs.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", what, errdefs.ErrConflict)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", what, errdefs.ErrNotFound)
		}
	}
	return fmt.Errorf("failed to access %s: %w", what, errdefs.Storage(err, true))
}

// inTx runs fn inside a transaction, rolling back on error.
func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", errdefs.Storage(err, true))
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", errdefs.Storage(err, true))
	}
	return nil
}
