// Package progress keeps advisory, in-memory progress per job and fans each
// update out to registered callbacks.
package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

type jobProgress struct {
	last      *entity.ProgressUpdate
	callbacks []*subscriber
	clear     *time.Timer
}

// subscriber delivers updates to one callback in publish order. At most one
// goroutine drains its queue at a time.
type subscriber struct {
	cb      entity.ProgressCallback
	mu      sync.Mutex
	queue   []entity.ProgressUpdate
	running bool
}

// Tracker is safe for concurrent use. Callbacks run off the caller's goroutine
// and each callback sees its updates in order; a failing or panicking callback
// is logged and never reaches the caller.
type Tracker struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*jobProgress
	global     []*subscriber
	clearDelay time.Duration
	now        func() time.Time
	wg         sync.WaitGroup
	logger     *slog.Logger
}

func NewTracker(clearDelay time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		jobs:       make(map[uuid.UUID]*jobProgress),
		clearDelay: clearDelay,
		now:        time.Now,
		logger:     logger,
	}
}

func (t *Tracker) entry(id uuid.UUID) *jobProgress {
	jp, ok := t.jobs[id]
	if !ok {
		jp = &jobProgress{}
		t.jobs[id] = jp
	}
	return jp
}

// Register adds a callback for one job. Several callbacks may watch the same job.
func (t *Tracker) Register(id uuid.UUID, cb entity.ProgressCallback) {
	if cb == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	jp := t.entry(id)
	jp.callbacks = append(jp.callbacks, &subscriber{cb: cb})
}

// Subscribe adds a callback that sees every job's updates.
func (t *Tracker) Subscribe(cb entity.ProgressCallback) {
	if cb == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.global = append(t.global, &subscriber{cb: cb})
}

// Update records stage and percent (clamped to 0..100) and notifies callbacks.
func (t *Tracker) Update(id uuid.UUID, stage string, percent int) entity.ProgressUpdate {
	return t.Publish(entity.ProgressUpdate{JobID: id, Stage: stage, Percent: percent})
}

// Publish is Update with byte counters and a message.
func (t *Tracker) Publish(u entity.ProgressUpdate) entity.ProgressUpdate {
	if u.Percent < 0 {
		u.Percent = 0
	}
	if u.Percent > 100 {
		u.Percent = 100
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = t.now()
	}

	t.mu.Lock()
	jp := t.entry(u.JobID)
	last := u
	jp.last = &last
	if jp.clear != nil {
		jp.clear.Stop()
		jp.clear = nil
	}
	// Enqueue under t.mu so concurrent publishers agree on one order.
	for _, sub := range jp.callbacks {
		t.enqueue(sub, u)
	}
	for _, sub := range t.global {
		t.enqueue(sub, u)
	}
	t.mu.Unlock()
	return u
}

func (t *Tracker) enqueue(sub *subscriber, u entity.ProgressUpdate) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, u)
	if sub.running {
		sub.mu.Unlock()
		return
	}
	sub.running = true
	sub.mu.Unlock()

	t.wg.Add(1)
	go t.drain(sub)
}

func (t *Tracker) drain(sub *subscriber) {
	defer t.wg.Done()
	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.running = false
			sub.mu.Unlock()
			return
		}
		u := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()
		t.invoke(sub.cb, u)
	}
}

func (t *Tracker) invoke(cb entity.ProgressCallback, u entity.ProgressUpdate) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("progress callback panicked", "job_id", u.JobID, "stage", u.Stage, "panic", fmt.Sprint(r))
		}
	}()
	if err := cb(u); err != nil {
		t.logger.Warn("progress callback failed", "job_id", u.JobID, "stage", u.Stage, "error", err)
	}
}

// Get returns the latest update for a job.
func (t *Tracker) Get(id uuid.UUID) (entity.ProgressUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	jp, ok := t.jobs[id]
	if !ok || jp.last == nil {
		return entity.ProgressUpdate{}, false
	}
	return *jp.last, true
}

// Reset forgets a job's latest update but keeps its callbacks, for a job that
// goes back to the queue.
func (t *Tracker) Reset(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if jp, ok := t.jobs[id]; ok {
		jp.last = nil
		if jp.clear != nil {
			jp.clear.Stop()
			jp.clear = nil
		}
	}
}

// Clear forgets a job's progress and callbacks.
func (t *Tracker) Clear(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if jp, ok := t.jobs[id]; ok && jp.clear != nil {
		jp.clear.Stop()
	}
	delete(t.jobs, id)
}

// ClearAfter schedules Clear once the configured delay passes. A new update
// before then cancels it.
func (t *Tracker) ClearAfter(id uuid.UUID) {
	if t.clearDelay <= 0 {
		t.Clear(id)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	jp, ok := t.jobs[id]
	if !ok {
		return
	}
	if jp.clear != nil {
		jp.clear.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.clearDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if cur, ok := t.jobs[id]; ok && cur.clear == timer {
			delete(t.jobs, id)
		}
	})
	jp.clear = timer
}

// Len is the number of jobs with tracked state.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Wait blocks until every dispatched callback has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
