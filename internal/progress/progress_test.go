package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

type recorder struct {
	mu      sync.Mutex
	updates []entity.ProgressUpdate
}

func (r *recorder) callback(u entity.ProgressUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func TestTracker_AllCallbacksSeeEveryUpdate(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	id := uuid.New()
	ui, metrics, global := &recorder{}, &recorder{}, &recorder{}
	tr.Register(id, ui.callback)
	tr.Register(id, metrics.callback)
	tr.Subscribe(global.callback)

	tr.Update(id, constants.StageRead, 20)
	tr.Update(id, constants.StageParse, 40)
	tr.Update(uuid.New(), constants.StageRead, 10)
	tr.Wait()

	if ui.len() != 2 || metrics.len() != 2 {
		t.Fatalf("per-job callbacks saw %d and %d updates", ui.len(), metrics.len())
	}
	if global.len() != 3 {
		t.Fatalf("global callback saw %d updates", global.len())
	}
	got, ok := tr.Get(id)
	if !ok || got.Stage != constants.StageParse || got.Percent != 40 {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
}

func TestTracker_ClampsPercent(t *testing.T) {
	tr := NewTracker(0, nil)
	id := uuid.New()
	if u := tr.Update(id, "x", 150); u.Percent != 100 {
		t.Errorf("got %d", u.Percent)
	}
	if u := tr.Update(id, "x", -3); u.Percent != 0 {
		t.Errorf("got %d", u.Percent)
	}
}

func TestTracker_FailingCallbacksAreContained(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	id := uuid.New()
	ok := &recorder{}
	tr.Register(id, func(entity.ProgressUpdate) error { return errors.New("subscriber down") })
	tr.Register(id, func(entity.ProgressUpdate) error { panic("subscriber bug") })
	tr.Register(id, ok.callback)

	tr.Update(id, constants.StageExtract, 60)
	tr.Wait()
	if ok.len() != 1 {
		t.Fatalf("healthy callback not invoked")
	}
}

func TestTracker_SlowCallbackDoesNotBlock(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	id := uuid.New()
	release := make(chan struct{})
	tr.Register(id, func(entity.ProgressUpdate) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		tr.Update(id, constants.StageRead, 10)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Update blocked on a callback")
	}
	close(release)
	tr.Wait()
}

func TestTracker_ClearAfter(t *testing.T) {
	tr := NewTracker(20*time.Millisecond, nil)
	id := uuid.New()
	tr.Update(id, constants.StageComplete, 100)
	tr.ClearAfter(id)

	if _, ok := tr.Get(id); !ok {
		t.Fatalf("cleared too early")
	}
	deadline := time.Now().Add(2 * time.Second)
	for tr.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("progress never cleared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	tr.Update(id, constants.StageRead, 10)
	tr.Clear(id)
	if _, ok := tr.Get(id); ok {
		t.Fatalf("Clear did not forget the job")
	}
}

func TestTracker_UpdateCancelsPendingClear(t *testing.T) {
	tr := NewTracker(30*time.Millisecond, nil)
	id := uuid.New()
	tr.Update(id, constants.StageComplete, 100)
	tr.ClearAfter(id)
	tr.Update(id, constants.StageRead, 10)

	time.Sleep(80 * time.Millisecond)
	if _, ok := tr.Get(id); !ok {
		t.Fatalf("a retried job lost its progress")
	}
}

func TestTracker_DeliversInOrder(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	id := uuid.New()
	ui, global := &recorder{}, &recorder{}
	tr.Register(id, func(u entity.ProgressUpdate) error {
		// Slow enough that later updates queue up behind this one.
		time.Sleep(time.Millisecond)
		return ui.callback(u)
	})
	tr.Subscribe(global.callback)

	seq := NewStageSequencer(tr, id)
	for _, stage := range seq.Stages() {
		seq.Advance(stage)
	}
	tr.Wait()

	for name, r := range map[string]*recorder{"per-job": ui, "global": global} {
		if len(r.updates) != len(constants.ProcessingStages) {
			t.Fatalf("%s saw %d updates", name, len(r.updates))
		}
		for i, u := range r.updates {
			if u.Stage != constants.ProcessingStages[i] {
				t.Fatalf("%s update %d = %s, want %s", name, i, u.Stage, constants.ProcessingStages[i])
			}
		}
		if last := r.updates[len(r.updates)-1]; last.Percent != 100 {
			t.Fatalf("%s ended at %d%%", name, last.Percent)
		}
	}
}

func TestTracker_ResetKeepsCallbacks(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	id := uuid.New()
	r := &recorder{}
	tr.Register(id, r.callback)
	tr.Update(id, constants.StageParse, 50)
	tr.Reset(id)
	if _, ok := tr.Get(id); ok {
		t.Fatalf("Reset kept the last update")
	}
	tr.Update(id, constants.StageRead, 33)
	tr.Wait()
	if r.len() != 2 {
		t.Fatalf("callback saw %d updates after Reset, want 2", r.len())
	}
}

func TestStageSequencer_ConcurrentAdvance(t *testing.T) {
	seq := NewStageSequencer(nil, uuid.New())
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won = map[string]int{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, stage := range seq.Stages() {
				if _, ok := seq.Advance(stage); ok {
					mu.Lock()
					won[stage]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	for stage, n := range won {
		if n != 1 {
			t.Fatalf("stage %s advanced %d times", stage, n)
		}
	}
}

func TestStageSequencer(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	id := uuid.New()
	seq := NewStageSequencer(tr, id)

	want := map[string]int{
		constants.StageValidate: 16,
		constants.StageRead:     33,
		constants.StageParse:    50,
		constants.StageExtract:  66,
		constants.StageFinalize: 83,
		constants.StageComplete: 100,
	}
	for _, stage := range seq.Stages() {
		pct, ok := seq.Advance(stage)
		if !ok || pct != want[stage] {
			t.Fatalf("Advance(%s) = %d, %v; want %d", stage, pct, ok, want[stage])
		}
		got, _ := tr.Get(id)
		if got.Percent != pct || got.Stage != stage {
			t.Fatalf("tracker = %+v", got)
		}
	}

	if _, ok := seq.Advance(constants.StageRead); ok {
		t.Fatalf("progress moved backwards")
	}
	if _, ok := seq.Advance("unknown"); ok {
		t.Fatalf("unknown stage accepted")
	}
}

func TestStageSequencer_CustomStages(t *testing.T) {
	seq := NewStageSequencer(nil, uuid.New(), "a", "b", "c", "d")
	if pct, _ := seq.Percent("b"); pct != 50 {
		t.Fatalf("got %d", pct)
	}
	if pct, _ := seq.Advance("d"); pct != 100 {
		t.Fatalf("got %d", pct)
	}
}

func TestRedisMirror_Unreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	m := NewRedisMirrorFromClient(rdb, time.Minute, nil)
	defer m.Close()

	err := m.Put(context.Background(), entity.ProgressUpdate{JobID: uuid.New(), Stage: "read", Percent: 10})
	if err == nil {
		t.Fatalf("expected a connection error")
	}

	// A broken mirror must not affect the tracker.
	tr := NewTracker(time.Minute, nil)
	tr.Subscribe(m.Callback())
	tr.Update(uuid.New(), constants.StageRead, 10)
	tr.Wait()
}

func TestNewRedisMirror_BadURL(t *testing.T) {
	if _, err := NewRedisMirror("not-a-url", time.Minute, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestProgressKey(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	if got := progressKey(id); got != "docflow:progress:6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Fatalf("got %s", got)
	}
}
