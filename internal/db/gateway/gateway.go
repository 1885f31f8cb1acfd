// Package gateway is the single choke point for SQL store access. It owns the
// pgx connection pool and refuses every operation unless Connect succeeded and
// Disconnect has not been called since.
//
// Queries use named placeholders (@name) bound from Args; the query text itself
// never carries user input.
package gateway

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/patric-chuzhbe/tokenshrt/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Args binds named placeholders: Args{"short": s} fills @short.
type Args = pgx.NamedArgs

// ErrAlreadyConnected is returned by Connect on a connected gateway.
var ErrAlreadyConnected = errors.New("database is already connected")

// NotConnectedError reports the operation that was refused. It unwraps to
// models.ErrNotConnected.
type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("gateway.%s: %s", e.Op, models.ErrNotConnected)
}

func (e *NotConnectedError) Unwrap() error {
	return models.ErrNotConnected
}

// Gateway wraps a lazily connected pgx pool.
type Gateway struct {
	dsn               string
	connectionTimeout time.Duration
	pool              atomic.Pointer[pgxpool.Pool]
}

// New returns a disconnected gateway. No I/O happens until Connect.
func New(dsn string, connectionTimeout time.Duration) *Gateway {
	return &Gateway{
		dsn:               dsn,
		connectionTimeout: connectionTimeout,
	}
}

// Connect opens the pool and verifies the store answers within the connection timeout.
func (g *Gateway) Connect(ctx context.Context) error {
	if g.pool.Load() != nil {
		return ErrAlreadyConnected
	}

	poolConfig, err := pgxpool.ParseConfig(g.dsn)
	if err != nil {
		return fmt.Errorf("in internal/db/gateway/gateway.go/Connect(): error while `pgxpool.ParseConfig()` calling: %w", err)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, g.connectionTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctxWithTimeout, poolConfig)
	if err != nil {
		return fmt.Errorf("in internal/db/gateway/gateway.go/Connect(): error while `pgxpool.NewWithConfig()` calling: %w", err)
	}

	if err := pool.Ping(ctxWithTimeout); err != nil {
		pool.Close()
		return fmt.Errorf("in internal/db/gateway/gateway.go/Connect(): error while `pool.Ping()` calling: %w", err)
	}

	if !g.pool.CompareAndSwap(nil, pool) {
		pool.Close()
		return ErrAlreadyConnected
	}

	return nil
}

// Disconnect closes the pool. Calls in flight finish; later calls get NotConnectedError.
func (g *Gateway) Disconnect() error {
	pool := g.pool.Swap(nil)
	if pool == nil {
		return &NotConnectedError{Op: "Disconnect"}
	}
	pool.Close()

	return nil
}

func (g *Gateway) IsConnected() bool {
	return g.pool.Load() != nil
}

// Ping checks the store within the connection timeout.
func (g *Gateway) Ping(ctx context.Context) error {
	pool, err := g.connected("Ping")
	if err != nil {
		return err
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, g.connectionTimeout)
	defer cancel()

	return pool.Ping(ctxWithTimeout)
}

// InitializeTables applies the embedded migrations. Every migration creates its
// table only if absent, so running it against an existing schema is a no-op.
func (g *Gateway) InitializeTables(ctx context.Context) error {
	pool, err := g.connected("InitializeTables")
	if err != nil {
		return err
	}

	migrationsDir, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("in internal/db/gateway/gateway.go/InitializeTables(): error while `fs.Sub()` calling: %w", err)
	}

	// borrows connections from the pool; closing it leaves the pool open
	database := stdlib.OpenDBFromPool(pool)
	defer database.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, database, migrationsDir)
	if err != nil {
		return fmt.Errorf("in internal/db/gateway/gateway.go/InitializeTables(): error while `goose.NewProvider()` calling: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("in internal/db/gateway/gateway.go/InitializeTables(): error while `provider.Up()` calling: %w", err)
	}

	return nil
}

func (g *Gateway) Execute(ctx context.Context, query string, args Args) (int64, error) {
	pool, err := g.connected("Execute")
	if err != nil {
		return 0, err
	}
	return (&Handle{db: pool}).Execute(ctx, query, args)
}

func (g *Gateway) ExecuteMany(ctx context.Context, query string, argsList []Args) error {
	pool, err := g.connected("ExecuteMany")
	if err != nil {
		return err
	}
	return (&Handle{db: pool}).ExecuteMany(ctx, query, argsList)
}

func (g *Gateway) FetchRow(ctx context.Context, query string, args Args, dest ...any) (bool, error) {
	pool, err := g.connected("FetchRow")
	if err != nil {
		return false, err
	}
	return (&Handle{db: pool}).FetchRow(ctx, query, args, dest...)
}

func (g *Gateway) FetchValue(ctx context.Context, query string, args Args, dest any) (bool, error) {
	pool, err := g.connected("FetchValue")
	if err != nil {
		return false, err
	}
	return (&Handle{db: pool}).FetchValue(ctx, query, args, dest)
}

func (g *Gateway) Fetch(ctx context.Context, query string, args Args) ([]map[string]any, error) {
	pool, err := g.connected("Fetch")
	if err != nil {
		return nil, err
	}
	return (&Handle{db: pool}).Fetch(ctx, query, args)
}

func (g *Gateway) Iterate(ctx context.Context, query string, args Args, fn func(row pgx.Row) error) error {
	pool, err := g.connected("Iterate")
	if err != nil {
		return err
	}
	return (&Handle{db: pool}).Iterate(ctx, query, args, fn)
}

// Transaction runs fn inside a single transaction; fn's error rolls it back.
func (g *Gateway) Transaction(ctx context.Context, fn func(h *Handle) error) error {
	pool, err := g.connected("Transaction")
	if err != nil {
		return err
	}

	return translate(pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return fn(&Handle{db: tx})
	}))
}

func (g *Gateway) connected(op string) (*pgxpool.Pool, error) {
	pool := g.pool.Load()
	if pool == nil {
		return nil, &NotConnectedError{Op: op}
	}
	return pool, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Handle runs queries against either the pool or a transaction. It is only
// handed out by a connected Gateway.
type Handle struct {
	db querier
}

// Execute runs a statement and returns the number of affected rows.
func (h *Handle) Execute(ctx context.Context, query string, args Args) (int64, error) {
	tag, err := h.db.Exec(ctx, query, args)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

// ExecuteMany sends the statement once per Args in a single batch round trip.
func (h *Handle) ExecuteMany(ctx context.Context, query string, argsList []Args) error {
	if len(argsList) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, args := range argsList {
		batch.Queue(query, args)
	}

	results := h.db.SendBatch(ctx, batch)
	for range argsList {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return translate(err)
		}
	}

	return translate(results.Close())
}

// FetchRow scans the first row into dest. It reports false when there is no row.
func (h *Handle) FetchRow(ctx context.Context, query string, args Args, dest ...any) (bool, error) {
	err := h.db.QueryRow(ctx, query, args).Scan(dest...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, translate(err)
	}
	return true, nil
}

// FetchValue scans the first column of the first row.
func (h *Handle) FetchValue(ctx context.Context, query string, args Args, dest any) (bool, error) {
	return h.FetchRow(ctx, query, args, dest)
}

// Fetch collects every row as a column-name keyed map.
func (h *Handle) Fetch(ctx context.Context, query string, args Args) ([]map[string]any, error) {
	rows, err := h.db.Query(ctx, query, args)
	if err != nil {
		return nil, translate(err)
	}

	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translate(err)
	}

	return result, nil
}

// Iterate streams rows to fn without buffering them; fn's error stops the scan.
func (h *Handle) Iterate(ctx context.Context, query string, args Args, fn func(row pgx.Row) error) error {
	rows, err := h.db.Query(ctx, query, args)
	if err != nil {
		return translate(err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}

	return translate(rows.Err())
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
