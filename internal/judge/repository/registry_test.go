package repository_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
	appErr "codejudge/pkg/errors"
)

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()
	reg := repository.NewRegistry()

	if _, ok := reg.Get("missing"); ok {
		t.Fatalf("expected unknown id to be absent")
	}
	if err := reg.Create("job-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	st, ok := reg.Get("job-1")
	if !ok || st.State != model.StateRunning || st.Outcome != nil {
		t.Fatalf("unexpected status after create: %+v", st)
	}

	if err := reg.SetDone("job-1", model.Success("hi\n")); err != nil {
		t.Fatalf("set done failed: %v", err)
	}
	st, _ = reg.Get("job-1")
	if !st.Done() || st.Outcome == nil || st.Outcome.Output != "hi\n" {
		t.Fatalf("unexpected status after done: %+v", st)
	}
	if st.FinishedAt.IsZero() {
		t.Fatalf("expected finished time to be set")
	}
}

func TestRegistrySetDoneIsTerminal(t *testing.T) {
	t.Parallel()
	reg := repository.NewRegistry()
	if err := reg.Create("job-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := reg.SetDone("job-1", model.Success("first")); err != nil {
		t.Fatalf("set done failed: %v", err)
	}
	err := reg.SetDone("job-1", model.RuntimeFailure("second", 1))
	if !appErr.Is(err, appErr.JobAlreadyDone) {
		t.Fatalf("expected JobAlreadyDone, got %v", err)
	}
	st, _ := reg.Get("job-1")
	if st.Outcome.Output != "first" {
		t.Fatalf("first outcome should be kept, got %+v", st.Outcome)
	}
}

func TestRegistryRejectsUnknownAndDuplicate(t *testing.T) {
	t.Parallel()
	reg := repository.NewRegistry()
	if err := reg.SetDone("nope", model.Success("")); !appErr.Is(err, appErr.JobNotFound) {
		t.Fatalf("expected JobNotFound, got %v", err)
	}
	if err := reg.Create(""); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error for empty id, got %v", err)
	}
	if err := reg.Create("dup"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := reg.Create("dup"); !appErr.Is(err, appErr.JobCreateFailed) {
		t.Fatalf("expected JobCreateFailed for duplicate, got %v", err)
	}
}

func TestRegistryConcurrentJobsDoNotInterfere(t *testing.T) {
	t.Parallel()
	reg := repository.NewRegistry()
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			if err := reg.Create(id); err != nil {
				t.Errorf("create %s failed: %v", id, err)
				return
			}
			_, _ = reg.Get(id)
			if err := reg.SetDone(id, model.Success(id)); err != nil {
				t.Errorf("set done %s failed: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("job-%d", i)
		st, ok := reg.Get(id)
		if !ok || !st.Done() || st.Outcome.Output != id {
			t.Fatalf("job %s has wrong status: %+v", id, st)
		}
	}
	stats := reg.Stats()
	if stats.Done != n || stats.Running != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRegistryEvictKeepsRunning(t *testing.T) {
	t.Parallel()
	reg := repository.NewRegistry()
	for _, id := range []string{"done", "running"} {
		if err := reg.Create(id); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if err := reg.SetDone("done", model.Success("")); err != nil {
		t.Fatalf("set done failed: %v", err)
	}

	if n := reg.Evict(time.Now().Add(-time.Hour)); n != 0 {
		t.Fatalf("nothing is older than an hour, evicted %d", n)
	}
	if n := reg.Evict(time.Now().Add(time.Second)); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, ok := reg.Get("done"); ok {
		t.Fatalf("evicted job still present")
	}
	if _, ok := reg.Get("running"); !ok {
		t.Fatalf("running job must not be evicted")
	}
	ids := reg.Running()
	if len(ids) != 1 || ids[0] != "running" {
		t.Fatalf("unexpected running ids: %v", ids)
	}
}

func TestRegistryCloseRejectsCreate(t *testing.T) {
	t.Parallel()
	reg := repository.NewRegistry()
	if err := reg.Create("before"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	reg.Close()
	if err := reg.Create("after"); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable after close, got %v", err)
	}
	if _, ok := reg.Get("before"); !ok {
		t.Fatalf("entries must stay readable after close")
	}
}
