package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hit123esh/Smart-Tourist-Safety/configs"
)

// Database wraps the pgx pool connected to the Supabase-hosted Postgres
// instance backing the Event Store.
type Database struct {
	Pool *pgxpool.Pool
}

// NewDatabase connects to the Supabase project. The DSN may point either at
// the direct Postgres port or at Supabase's connection pooler; the pooler
// runs PgBouncer in transaction mode, which cannot track server-side
// prepared statements, so queries fall back to the simple protocol there.
func NewDatabase(cfg configs.SupabaseConfig) (*Database, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Supabase URL: %w", err)
	}

	// The service key doubles as the database password for the service role.
	if cfg.ServiceKey != "" {
		poolCfg.ConnConfig.Password = cfg.ServiceKey
	}

	if usesTransactionPooler(cfg.URL) {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
		log.Info().Msg("Supabase pooler DSN detected, using simple query protocol")
	}

	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach Supabase: %w", err)
	}

	log.Info().Msg("Event Store connection established")

	return &Database{Pool: pool}, nil
}

// usesTransactionPooler reports whether the DSN targets Supabase's pooled
// endpoint rather than direct Postgres. The hosted pooler listens on 6543;
// self-managed setups flag it explicitly.
func usesTransactionPooler(dsn string) bool {
	return strings.Contains(dsn, ":6543") ||
		strings.Contains(dsn, "pgbouncer=true") ||
		strings.Contains(dsn, "pooler.supabase.com")
}

// Close releases the connection pool.
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Info().Msg("Event Store connection closed")
	}
}
