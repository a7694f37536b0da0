// Package postgres wires the shared connection pool behind the circuit
// breaker (spec.md §4.1), grounded on the teacher's internal/app postgres
// wiring (db.NewPostgresService(log) + pg.AutoMigrateAll()).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
	"github.com/neurobridge-labs/reelforge/internal/storage/circuit"
)

type Pool struct {
	db      *gorm.DB
	breaker *circuit.Breaker
	log     *logger.Logger
}

type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Breaker         circuit.Config
}

// openSQLDB builds a *sql.DB over pgx/v5 directly rather than letting
// gorm's driver pick its own defaults: AutoMigrateAll runs DDL across the
// lifetime of a long-lived pool, and pgx's default prepared-statement
// cache (QueryExecModeCacheStatement) can serve a stale plan against a
// column that migration just changed. Describe-exec re-describes the
// statement on every execution instead of trusting the cache.
func openSQLDB(dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec
	return stdlib.OpenDB(*cfg), nil
}

func Open(opts Options, log *logger.Logger) (*Pool, error) {
	sqlDB, err := openSQLDB(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.Breaker.Name == "" {
		opts.Breaker.Name = "postgres-pool"
	}
	breaker := circuit.New(opts.Breaker, log)
	return &Pool{db: gdb, breaker: breaker, log: log}, nil
}

// DB returns the underlying *gorm.DB for repositories that need direct
// query-building access. Callers on the hot path (claimJob, ensureJob)
// should prefer Transaction/WithCircuit so breaker state is respected.
func (p *Pool) DB() *gorm.DB { return p.db }

func (p *Pool) Breaker() *circuit.Breaker { return p.breaker }

// AutoMigrateAll creates/updates the schema for every domain model this
// service owns.
func (p *Pool) AutoMigrateAll() error {
	return p.db.AutoMigrate(
		&domain.Project{},
		&domain.Character{},
		&domain.Location{},
		&domain.Scene{},
		&domain.SceneCharacter{},
		&domain.Job{},
		&domain.ProjectLock{},
		&domain.Checkpoint{},
	)
}

// WithCircuit runs fn through the breaker, translating an open breaker into
// circuit.ErrCircuitOpen per spec.md §4.1.
func (p *Pool) WithCircuit(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.breaker.Execute(ctx, fn)
}

// Transaction runs fn inside BEGIN/COMMIT (rolling back on error) through
// the circuit breaker, guaranteeing release on every path.
func (p *Pool) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return p.WithCircuit(ctx, func(ctx context.Context) error {
		return p.db.WithContext(ctx).Transaction(fn)
	})
}

func (p *Pool) GetCircuitState() circuit.State { return p.breaker.State() }

var ErrPoolExhausted = errors.New("postgres: connection pool exhausted")
