package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connection hygiene for the shared pool. Letters are long-lived rows with
// short transactions, so connections recycle rather than pinning for hours.
const (
	dbMaxConnLifetime = time.Hour
	dbMaxConnIdleTime = 15 * time.Minute
	dbConnectTimeout  = 3 * time.Second
)

// NewDBPool builds the pgx pool every store shares and validates both
// connectivity and the presence of the configured schema, so a server
// pointed at an unmigrated database fails at startup instead of on the
// first letter write. Schema DDL itself is the migrate package's job.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, dbConnectTimeout); err != nil {
		pool.Close()
		return nil, err
	}
	if err := checkSchema(ctx, pool, cfg.DBSchema); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// poolConfig shapes the parsed pgx config with OpenOn's sizing and
// connection hygiene before any connection is dialed.
func poolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	pcfg.MaxConnLifetime = dbMaxConnLifetime
	pcfg.MaxConnIdleTime = dbMaxConnIdleTime
	if pcfg.ConnConfig.RuntimeParams == nil {
		pcfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	pcfg.ConnConfig.RuntimeParams["application_name"] = "openon"
	return pcfg, nil
}

// PingDB round-trips a query within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Ping(ctx)
}

// checkSchema verifies the stores' schema exists. MigrateOnStart creates it;
// otherwise an operator has to run migrations out of band first.
func checkSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		schema,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("db schema %q does not exist; run migrations (OPENON_DB_MIGRATE=true)", schema)
	}
	return nil
}
