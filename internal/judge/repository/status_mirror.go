package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const statusKeyPrefix = "codejudge:job:"

// StatusMirror copies terminal job statuses to a shared cache so results
// survive registry eviction and process restarts.
type StatusMirror struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewStatusMirror creates a mirror. A zero ttl keeps entries forever.
func NewStatusMirror(cacheClient cache.Cache, ttl time.Duration) *StatusMirror {
	return &StatusMirror{cache: cacheClient, ttl: ttl}
}

// Name identifies the sink in logs.
func (m *StatusMirror) Name() string { return "redis_mirror" }

// Record stores the finished status. An existing entry is never overwritten.
func (m *StatusMirror) Record(ctx context.Context, job model.FinishedJob) error {
	if job.Status.ID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	if !job.Status.Done() {
		return appErr.Newf(appErr.InvalidValue, "job %s is not finished", job.Status.ID)
	}
	if m.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(job.Status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if _, err := m.cache.SetNX(ctx, statusKeyPrefix+job.Status.ID, string(data), m.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}

// Get returns the mirrored status of id, or JobNotFound.
func (m *StatusMirror) Get(ctx context.Context, id string) (model.Status, error) {
	if id == "" {
		return model.Status{}, appErr.ValidationError("job_id", "required")
	}
	if m.cache == nil {
		return model.Status{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := m.cache.Get(ctx, statusKeyPrefix+id)
	if err != nil {
		return model.Status{}, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if val == "" {
		return model.Status{}, appErr.Newf(appErr.JobNotFound, "job %s not found", id)
	}
	var st model.Status
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return model.Status{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return st, nil
}
