package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/internal/pipeline"
)

// IngestionResult is the per-file ingest outcome.
type IngestionResult struct {
	SourcePath   string
	FileID       string
	JobID        uuid.UUID
	Deduplicated bool
	FileExt      string
	Size         int64
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Submitter accepts a file for processing; *pipeline.Orchestrator implements it.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (uuid.UUID, error)
}

// Ingestor is the behavior the daemon and CLI depend on.
type Ingestor interface {
	// IngestPath submits a single file.
	IngestPath(ctx context.Context, path string) (IngestionResult, error)
	// IngestDirectory submits all matching files under root.
	IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error)
}
