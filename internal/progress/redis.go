package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

const progressKeyPrefix = "docflow:progress:"

// RedisMirror copies progress into Redis so processes that do not own the job
// can still read its live stage. Entries expire after ttl.
type RedisMirror struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedisMirror parses url (redis://host:port/db).
func NewRedisMirror(url string, ttl time.Duration, logger *slog.Logger) (*RedisMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisMirrorFromClient(redis.NewClient(opts), ttl, logger), nil
}

func NewRedisMirrorFromClient(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisMirror{rdb: rdb, ttl: ttl, timeout: 2 * time.Second, logger: logger}
}

// Ping checks the connection.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// Callback is a Tracker subscriber that writes each update.
func (m *RedisMirror) Callback() entity.ProgressCallback {
	return func(u entity.ProgressUpdate) error {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		return m.Put(ctx, u)
	}
}

// Put stores u under the job's key.
func (m *RedisMirror) Put(ctx context.Context, u entity.ProgressUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := m.rdb.Set(ctx, progressKey(u.JobID), payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("mirror progress: %w", err)
	}
	return nil
}

// Get returns the mirrored update, or false when none is stored.
func (m *RedisMirror) Get(ctx context.Context, id uuid.UUID) (entity.ProgressUpdate, bool, error) {
	data, err := m.rdb.Get(ctx, progressKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entity.ProgressUpdate{}, false, nil
		}
		return entity.ProgressUpdate{}, false, err
	}
	var u entity.ProgressUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return entity.ProgressUpdate{}, false, err
	}
	return u, true, nil
}

// Delete drops the mirrored entry.
func (m *RedisMirror) Delete(ctx context.Context, id uuid.UUID) error {
	return m.rdb.Del(ctx, progressKey(id)).Err()
}

func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}

func progressKey(id uuid.UUID) string {
	return progressKeyPrefix + id.String()
}
