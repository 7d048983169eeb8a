package scraper

import "fmt"

// Terminal reports whether no further transition is expected in this pass.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// CheckTransition validates a lifecycle edge. Entering running starts a new
// pass and is allowed from any status other than running; terminal states are
// only reachable from running and pending is never re-entered.
func CheckTransition(from, to JobStatus) error {
	switch to {
	case JobStatusRunning:
		if from == JobStatusRunning {
			return ErrJobRunning
		}
		if !from.Valid() {
			return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
		}
		return nil
	case JobStatusCompleted, JobStatusFailed:
		if from != JobStatusRunning {
			return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
}

// CanStart decides whether a job in status current may begin a run.
func CanStart(current JobStatus, allowRerun bool) error {
	switch {
	case current == JobStatusRunning:
		return ErrJobRunning
	case current.Terminal() && !allowRerun:
		return ErrRerunNotAllowed
	}
	return CheckTransition(current, JobStatusRunning)
}
