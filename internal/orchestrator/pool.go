package orchestrator

import "golang.org/x/sync/semaphore"

// admission optionally bounds the number of concurrent background jobs.
// A nil admission admits everything.
type admission struct {
	sem *semaphore.Weighted
}

func newAdmission(maxInFlight int64) *admission {
	if maxInFlight <= 0 {
		return nil
	}
	return &admission{sem: semaphore.NewWeighted(maxInFlight)}
}

// acquire takes a slot without blocking
func (a *admission) acquire() bool {
	if a == nil {
		return true
	}
	return a.sem.TryAcquire(1)
}

func (a *admission) release() {
	if a == nil {
		return
	}
	a.sem.Release(1)
}
