package progress

import (
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
)

// StageSequencer divides 100% evenly across an ordered list of stages so a
// processor can report "parse" without computing percentages. It is safe for
// concurrent use.
type StageSequencer struct {
	mu      sync.Mutex
	tracker *Tracker
	jobID   uuid.UUID
	stages  []string
	index   map[string]int
	reached int
}

// NewStageSequencer uses constants.ProcessingStages when stages is empty.
func NewStageSequencer(tracker *Tracker, jobID uuid.UUID, stages ...string) *StageSequencer {
	if len(stages) == 0 {
		stages = constants.ProcessingStages
	}
	idx := make(map[string]int, len(stages))
	for i, s := range stages {
		idx[s] = i
	}
	return &StageSequencer{tracker: tracker, jobID: jobID, stages: stages, index: idx, reached: -1}
}

// Percent is the share of the run completed once stage finishes.
func (s *StageSequencer) Percent(stage string) (int, bool) {
	i, ok := s.index[stage]
	if !ok {
		return 0, false
	}
	return (i + 1) * 100 / len(s.stages), true
}

// Advance reports stage. Unknown stages and stages earlier than one already
// reported are ignored so progress never moves backwards.
func (s *StageSequencer) Advance(stage string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[stage]
	if !ok || i <= s.reached {
		return 0, false
	}
	s.reached = i
	pct := (i + 1) * 100 / len(s.stages)
	if s.tracker != nil {
		s.tracker.Update(s.jobID, stage, pct)
	}
	return pct, true
}

// Stages returns the sequence.
func (s *StageSequencer) Stages() []string {
	return append([]string(nil), s.stages...)
}
