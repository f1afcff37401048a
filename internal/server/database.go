package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
	repo "github.com/joseph-ayodele/docflow/internal/repository"
)

// ConnectDB opens the configured database, applies the schema and returns a
// job store over it.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repo.DB, repo.JobStore, error) {
	db, err := repo.Open(ctx, repo.Config{
		Driver:           cfg.Driver,
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, nil, common.WrapError(err, "open database")
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, common.WrapError(err, "migrate")
	}
	return db, repo.NewSQLJobStore(db, logger), nil
}

// PingDB pings the database to ensure it's responsive
func PingDB(ctx context.Context, db *repo.DB, logger *slog.Logger, timeout time.Duration) error {
	logger.Debug("pinging database")
	if err := db.HealthCheck(ctx, timeout); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}

// CloseDB closes the database connections gracefully
func CloseDB(db *repo.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	logger.Info("closing database connections")
	db.Close()
	logger.Info("database connections closed")
}
