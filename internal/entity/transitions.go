package entity

import (
	"fmt"

	"github.com/joseph-ayodele/docflow/constants"
)

// Transition names an edge of the job state machine.
type Transition struct {
	From constants.JobStatus
	To   constants.JobStatus
}

// transitions is the complete set of legal edges. PROCESSING -> PENDING is only
// taken by stalled-job recovery.
var transitions = map[Transition]struct{}{
	{constants.JobStatusPending, constants.JobStatusProcessing}:   {},
	{constants.JobStatusProcessing, constants.JobStatusCompleted}: {},
	{constants.JobStatusProcessing, constants.JobStatusFailed}:    {},
	{constants.JobStatusFailed, constants.JobStatusPending}:       {},
	{constants.JobStatusPending, constants.JobStatusCancelled}:    {},
	{constants.JobStatusProcessing, constants.JobStatusCancelled}: {},
	{constants.JobStatusProcessing, constants.JobStatusPending}:   {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to constants.JobStatus) bool {
	_, ok := transitions[Transition{From: from, To: to}]
	return ok
}

// SourcesOf returns every status that may move to `to`.
func SourcesOf(to constants.JobStatus) []constants.JobStatus {
	var out []constants.JobStatus
	for _, s := range constants.AllStatuses {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}
	return out
}

// TransitionError is returned when a write would violate the state machine.
type TransitionError struct {
	From constants.JobStatus
	To   constants.JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}
