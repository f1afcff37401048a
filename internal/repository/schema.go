package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
)

const jobsTable = "processing_jobs"

// Columns of processing_jobs in scan order.
var jobColumns = []string{
	"id", "file_id", "file_name", "file_size", "declared_format", "detected_format",
	"status", "progress", "priority", "priority_rank",
	"retry_count", "max_retries", "last_retry_at", "next_retry_at",
	"extracted_text", "result_json",
	"error_code", "error_message", "error_recoverable", "error_details",
	"options_json", "worker_id",
	"created_at", "started_at", "completed_at", "updated_at",
	"estimated_duration_ms", "actual_duration_ms",
}

// Timestamps are unix milliseconds so both dialects compare them the same way.
const jobsDDL = `CREATE TABLE IF NOT EXISTS processing_jobs (
	id                    TEXT PRIMARY KEY,
	file_id               TEXT NOT NULL,
	file_name             TEXT NOT NULL,
	file_size             BIGINT NOT NULL,
	declared_format       TEXT NOT NULL DEFAULT '',
	detected_format       TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL,
	progress              INTEGER NOT NULL DEFAULT 0,
	priority              TEXT NOT NULL,
	priority_rank         INTEGER NOT NULL,
	retry_count           INTEGER NOT NULL DEFAULT 0,
	max_retries           INTEGER NOT NULL,
	last_retry_at         BIGINT,
	next_retry_at         BIGINT,
	extracted_text        TEXT,
	result_json           TEXT,
	error_code            TEXT,
	error_message         TEXT,
	error_recoverable     INTEGER NOT NULL DEFAULT 0,
	error_details         TEXT,
	options_json          TEXT NOT NULL DEFAULT '{}',
	content               %s,
	worker_id             TEXT NOT NULL DEFAULT '',
	created_at            BIGINT NOT NULL,
	started_at            BIGINT,
	completed_at          BIGINT,
	updated_at            BIGINT NOT NULL,
	estimated_duration_ms BIGINT NOT NULL DEFAULT 0,
	actual_duration_ms    BIGINT NOT NULL DEFAULT 0
)`

var jobsIndexes = []string{
	`CREATE INDEX IF NOT EXISTS processing_jobs_claim_idx ON processing_jobs (status, priority_rank, created_at)`,
	`CREATE INDEX IF NOT EXISTS processing_jobs_started_idx ON processing_jobs (status, started_at)`,
	`CREATE INDEX IF NOT EXISTS processing_jobs_completed_idx ON processing_jobs (completed_at)`,
}

// Migrate creates the jobs table and its indexes if they are missing.
func (d *DB) Migrate(ctx context.Context) error {
	blob := "BLOB"
	if d.Dialect == dialect.Postgres {
		blob = "BYTEA"
	}
	stmts := append([]string{fmt.Sprintf(jobsDDL, blob)}, jobsIndexes...)
	for _, stmt := range stmts {
		if err := d.Driver.Exec(ctx, stmt, []any{}, nil); err != nil {
			d.logger.Error("failed to migrate job store", "error", err)
			return fmt.Errorf("migrate: %w", err)
		}
	}
	d.logger.Info("job store schema ready", "table", jobsTable)
	return nil
}
