package repository

import (
	"sync"
	"time"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// Registry maps job ids to their current status.
// The lock guards map access only; callers never hold it across I/O.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]model.Status
	closed bool
	now    func() time.Time
}

// RegistryStats is a snapshot of registry counters.
type RegistryStats struct {
	Running int `json:"running"`
	Done    int `json:"done"`
}

// NewRegistry creates an empty registry. Close it when the service stops.
func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]model.Status),
		now:  time.Now,
	}
}

// Create registers id as running.
func (r *Registry) Create(id string) error {
	if id == "" {
		return appErr.ValidationError("job_id", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return appErr.Unavailable("job registry is closed")
	}
	if _, ok := r.jobs[id]; ok {
		return appErr.Newf(appErr.JobCreateFailed, "job %s already exists", id)
	}
	r.jobs[id] = model.Status{ID: id, State: model.StateRunning, CreatedAt: r.now()}
	return nil
}

// SetDone moves id to its terminal state. A job is finished at most once:
// a second call fails with JobAlreadyDone and leaves the first outcome in place.
func (r *Registry) SetDone(id string, outcome model.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.jobs[id]
	if !ok {
		return appErr.Newf(appErr.JobNotFound, "job %s not found", id)
	}
	if st.Done() {
		return appErr.Newf(appErr.JobAlreadyDone, "job %s already finished", id)
	}
	out := outcome
	st.State = model.StateDone
	st.Outcome = &out
	st.FinishedAt = r.now()
	r.jobs[id] = st
	return nil
}

// Get returns the current status of id. It never waits for a transition.
func (r *Registry) Get(id string) (model.Status, bool) {
	r.mu.RLock()
	st, ok := r.jobs[id]
	r.mu.RUnlock()
	return st, ok
}

// Running returns the ids of jobs not yet finished.
func (r *Registry) Running() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0)
	for id, st := range r.jobs {
		if !st.Done() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Evict drops finished jobs whose outcome was recorded before cutoff.
// Running jobs are never evicted.
func (r *Registry) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, st := range r.jobs {
		if st.Done() && st.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Stats counts jobs by state.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stats RegistryStats
	for _, st := range r.jobs {
		if st.Done() {
			stats.Done++
		} else {
			stats.Running++
		}
	}
	return stats
}

// Close rejects further Create calls. Existing entries stay readable.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
