package constants

// JobStatus is the canonical status for rows in processing_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "PENDING"    // waiting to be claimed
	JobStatusProcessing JobStatus = "PROCESSING" // claimed by a worker
	JobStatusCompleted  JobStatus = "COMPLETED"  // terminal success
	JobStatusFailed     JobStatus = "FAILED"     // attempt failed; terminal once no retry is possible
	JobStatusCancelled  JobStatus = "CANCELLED"  // terminal, external request
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Priority orders claims: high > normal > low.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Rank is the integer persisted for ordering; higher is claimed first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// PriorityFromRank is the inverse of Rank.
func PriorityFromRank(rank int) Priority {
	switch rank {
	case 2:
		return PriorityHigh
	case 0:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// ParsePriority accepts the lowercase labels; anything else is normal.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return Priority(s), true
	case "":
		return PriorityNormal, true
	}
	return PriorityNormal, false
}
