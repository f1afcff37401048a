package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
)

// FSIngestor reads files from the local filesystem and submits them. The file
// id is the sha256 of the content, so the same bytes are submitted once per
// ingestor lifetime regardless of path.
type FSIngestor struct {
	submitter   Submitter
	allowedExts map[string]struct{} // lowercased sans '.'; nil -> default set
	maxSize     int64
	options     entity.ProcessingOptions
	logger      *slog.Logger

	mu   sync.Mutex
	seen map[string]uuid.UUID
}

type FSOption func(*FSIngestor)

// WithAllowedExts restricts ingest to the given extensions.
func WithAllowedExts(exts []string) FSOption {
	return func(i *FSIngestor) { i.allowedExts = ExtSet(exts) }
}

// WithMaxSize refuses files above n bytes before reading them.
func WithMaxSize(n int64) FSOption {
	return func(i *FSIngestor) { i.maxSize = n }
}

// WithOptions sets the processing options attached to every submission.
func WithOptions(opts entity.ProcessingOptions) FSOption {
	return func(i *FSIngestor) { i.options = opts }
}

func NewFSIngestor(s Submitter, logger *slog.Logger, opts ...FSOption) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	i := &FSIngestor{submitter: s, logger: logger, seen: make(map[string]uuid.UUID)}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *FSIngestor) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	out := IngestionResult{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	out.SourcePath = abs

	ext := constants.NormalizeExt(filepath.Ext(abs))
	out.FileExt = ext
	if ext == "" || !AllowedExt(ext, i.allowedExts) {
		return out, fmt.Errorf("unsupported or missing extension: %q", ext)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return out, fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return out, fmt.Errorf("%s is a directory", abs)
	}
	if i.maxSize > 0 && info.Size() > i.maxSize {
		return out, fmt.Errorf("file is %d bytes, limit is %d", info.Size(), i.maxSize)
	}

	data, err := readFile(abs)
	if err != nil {
		return out, err
	}
	sum := sha256.Sum256(data)
	out.FileID = hex.EncodeToString(sum[:])
	out.Size = int64(len(data))

	i.mu.Lock()
	if id, ok := i.seen[out.FileID]; ok {
		i.mu.Unlock()
		out.JobID = id
		out.Deduplicated = true
		i.logger.Debug("duplicate file skipped", "path", abs, "file_id", out.FileID, "job_id", id)
		return out, nil
	}
	i.mu.Unlock()

	id, err := i.submitter.Submit(ctx, pipeline.SubmitRequest{
		Data:           data,
		FileID:         out.FileID,
		FileName:       filepath.Base(abs),
		DeclaredFormat: string(constants.MapExtToFormat(ext)),
		Options:        i.options,
	})
	if err != nil {
		return out, fmt.Errorf("submit %s: %w", abs, err)
	}
	out.JobID = id

	i.mu.Lock()
	i.seen[out.FileID] = id
	i.mu.Unlock()
	i.logger.Info("file ingested", "path", abs, "file_id", out.FileID, "job_id", id, "size", out.Size)
	return out, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return data, nil
}
