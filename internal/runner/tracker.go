package runner

import (
	"context"
	"sync"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

// Tracker keeps the cancel handles of in-flight runs so an operator can abort them.
type Tracker struct {
	mu   sync.Mutex
	runs map[string]*trackedRun
}

type trackedRun struct {
	cancel context.CancelCauseFunc
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[string]*trackedRun)}
}

// Begin derives a cancellable context for jobID. The returned func must be
// called when the run ends.
func (t *Tracker) Begin(ctx context.Context, jobID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancelCause(ctx)
	run := &trackedRun{cancel: cancel}

	t.mu.Lock()
	t.runs[jobID] = run
	t.mu.Unlock()

	return runCtx, func() {
		t.mu.Lock()
		if t.runs[jobID] == run {
			delete(t.runs, jobID)
		}
		t.mu.Unlock()
		cancel(nil)
	}
}

// Cancel aborts the in-flight run of jobID and reports whether one existed.
func (t *Tracker) Cancel(jobID string) bool {
	t.mu.Lock()
	run, ok := t.runs[jobID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel(scraper.ErrRunCanceled)
	return true
}

// Running reports whether jobID has an in-flight run in this process.
func (t *Tracker) Running(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.runs[jobID]
	return ok
}
