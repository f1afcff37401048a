package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	Driver           string // "postgres" | "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	DialAttempts     uint
}

// DB bundles the ent SQL driver with the pool that backs it.
type DB struct {
	Driver  *entsql.Driver
	Dialect string
	pool    *pgxpool.Pool
	sqlDB   *sql.DB
	logger  *slog.Logger
}

// Open connects to Postgres (pgx pool wrapped for ent) or SQLite (modernc),
// retrying the first ping with exponential backoff.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = 5
	}
	logger.Info("connecting to database", "driver", cfg.Driver)

	var (
		d   *DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		d, err = openPostgres(ctx, cfg, logger)
	case "sqlite", "":
		d, err = openSQLite(cfg, logger)
	default:
		err = fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, d.HealthCheck(ctx, cfg.DialTimeout)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(cfg.DialAttempts))
	if err != nil {
		logger.Error("database never became reachable", "error", err)
		d.Close()
		return nil, err
	}

	logger.Info("successfully connected to database", "dialect", d.Dialect)
	return d, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "docflow"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}

	// Wrap pool as *sql.DB for ent
	db := stdlib.OpenDBFromPool(pool)
	return &DB{
		Driver:  entsql.OpenDB(dialect.Postgres, db),
		Dialect: dialect.Postgres,
		pool:    pool,
		sqlDB:   db,
		logger:  logger,
	}, nil
}

func openSQLite(cfg Config, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers; also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return &DB{
		Driver:  entsql.OpenDB(dialect.SQLite, db),
		Dialect: dialect.SQLite,
		sqlDB:   db,
		logger:  logger,
	}, nil
}

// Close closes the database connections gracefully
func (d *DB) Close() {
	if d == nil {
		return
	}
	d.logger.Info("closing database connections")
	if d.Driver != nil {
		if err := d.Driver.Close(); err != nil {
			d.logger.Error("failed to close sql driver", "error", err)
		}
	}
	if d.pool != nil {
		d.pool.Close()
	}
	d.logger.Info("database connections closed")
}

// HealthCheck pings the database to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	d.logger.Debug("pinging database")
	if d.pool != nil {
		return d.pool.Ping(ctx)
	}
	return d.sqlDB.PingContext(ctx)
}
