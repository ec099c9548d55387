package service_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/runner"
	"codejudge/internal/judge/service"
	"codejudge/internal/judge/toolchain"
	"codejudge/internal/testutil"
	appErr "codejudge/pkg/errors"
)

type fakeToolchain struct {
	writeErr   error
	compileErr error
	// gate, when set, blocks Compile until it is closed or ctx ends.
	gate chan struct{}
}

func (f *fakeToolchain) Write(code, path string) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(code), 0o644)
}

func (f *fakeToolchain) Compile(ctx context.Context, src, out string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return &toolchain.CompileError{ExitCode: -1, Err: ctx.Err()}
		}
	}
	if f.compileErr != nil {
		return f.compileErr
	}
	// The "binary" is the source itself so the fake runner can echo it.
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o755)
}

type fakeRunner struct {
	run func(ctx context.Context, exe, input string) (string, error)
}

func (f *fakeRunner) Run(ctx context.Context, exe, input string) (string, error) {
	if f.run != nil {
		return f.run(ctx, exe, input)
	}
	data, err := os.ReadFile(exe)
	if err != nil {
		return "", &runner.LaunchError{Err: err}
	}
	return string(data), nil
}

type recordingSink struct {
	mu      sync.Mutex
	jobs    []model.FinishedJob
	sources []string
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Record(ctx context.Context, job model.FinishedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	data, _ := os.ReadFile(job.SourcePath)
	s.sources = append(s.sources, string(data))
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type fixture struct {
	svc      *service.Service
	registry *repository.Registry
	workRoot string
}

func newFixture(t *testing.T, tc service.Toolchain, run service.Runner, mutate func(*service.Config)) *fixture {
	t.Helper()
	registry := repository.NewRegistry()
	cfg := service.Config{
		Registry:  registry,
		Toolchain: tc,
		Runner:    run,
		WorkRoot:  t.TempDir(),
		Workers:   2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := service.NewService(cfg)
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	svc.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
		registry.Close()
	})
	return &fixture{svc: svc, registry: registry, workRoot: cfg.WorkRoot}
}

func (f *fixture) submit(t *testing.T, code string) string {
	t.Helper()
	id, err := f.svc.Submit(context.Background(), model.Submission{Lang: "cpp", Code: code})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return id
}

func (f *fixture) waitDone(t *testing.T, id string) model.Status {
	t.Helper()
	var st model.Status
	testutil.Eventually(t, 5*time.Second, func() bool {
		var err error
		st, err = f.svc.Result(context.Background(), id)
		return err == nil && st.Done()
	}, "job "+id+" did not finish")
	return st
}

func TestSubmitReturnsBeforeCompileFinishes(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &fakeToolchain{gate: gate}, &fakeRunner{}, nil)

	id := f.submit(t, "hello\n")
	if len(id) != 32 {
		t.Fatalf("expected 32 hex char id, got %q", id)
	}
	st, err := f.svc.Result(context.Background(), id)
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if st.State != model.StateRunning {
		t.Fatalf("expected running while compile is blocked, got %s", st.State)
	}
	// Repeated polls stay stable.
	if again, _ := f.svc.Result(context.Background(), id); again.State != model.StateRunning {
		t.Fatalf("running state changed without progress")
	}

	close(gate)
	st = f.waitDone(t, id)
	if st.Outcome.Kind != model.OutcomeSuccess || st.Outcome.Output != "hello\n" {
		t.Fatalf("unexpected outcome: %+v", st.Outcome)
	}
	again, _ := f.svc.Result(context.Background(), id)
	if again.Outcome.Text() != st.Outcome.Text() {
		t.Fatalf("done result is not stable")
	}
}

func TestOutcomePerStage(t *testing.T) {
	cases := []struct {
		name     string
		tc       *fakeToolchain
		run      *fakeRunner
		kind     model.OutcomeKind
		text     string
		exitCode int
	}{
		{
			name: "write failure",
			tc:   &fakeToolchain{writeErr: errors.New("read-only file system")},
			run:  &fakeRunner{},
			kind:     model.OutcomeWriteFailure,
			text:     "write failed: read-only file system",
			exitCode: -1,
		},
		{
			name: "compile failure carries diagnostics",
			tc: &fakeToolchain{compileErr: &toolchain.CompileError{
				ExitCode:    1,
				Diagnostics: "main.cpp:1:21: error: expected ';'\n",
			}},
			run:      &fakeRunner{},
			kind:     model.OutcomeCompileFailure,
			text:     "compile failed: compiler exited with code 1\nmain.cpp:1:21: error: expected ';'",
			exitCode: 1,
		},
		{
			name: "launch failure",
			tc:   &fakeToolchain{},
			run: &fakeRunner{run: func(ctx context.Context, exe, input string) (string, error) {
				return "", &runner.LaunchError{Err: errors.New("exec format error")}
			}},
			kind:     model.OutcomeLaunchFailure,
			text:     "run failed: exec format error",
			exitCode: -1,
		},
		{
			name: "runtime failure",
			tc:   &fakeToolchain{},
			run: &fakeRunner{run: func(ctx context.Context, exe, input string) (string, error) {
				return "", &runner.RuntimeError{ExitCode: 1, Err: errors.New("exit status 1")}
			}},
			kind:     model.OutcomeRuntimeFailure,
			exitCode: 1,
		},
		{
			name: "timeout",
			tc:   &fakeToolchain{},
			run: &fakeRunner{run: func(ctx context.Context, exe, input string) (string, error) {
				return "", &runner.TimeoutError{Limit: 5 * time.Second}
			}},
			kind:     model.OutcomeTimeout,
			exitCode: -1,
		},
		{
			name: "empty output is success",
			tc:   &fakeToolchain{},
			run: &fakeRunner{run: func(ctx context.Context, exe, input string) (string, error) {
				return "", nil
			}},
			kind: model.OutcomeSuccess,
			text: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.tc, tc.run, nil)
			st := f.waitDone(t, f.submit(t, "int main() {}"))
			if st.Outcome.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", st.Outcome.Kind, tc.kind)
			}
			if tc.text != "" || tc.kind == model.OutcomeSuccess {
				if got := st.Outcome.Text(); got != tc.text {
					t.Fatalf("text = %q, want %q", got, tc.text)
				}
			}
			if st.Outcome.ExitCode != tc.exitCode {
				t.Fatalf("exit code = %d, want %d", st.Outcome.ExitCode, tc.exitCode)
			}
		})
	}
}

func TestPanicInPipelineBecomesOutcome(t *testing.T) {
	run := &fakeRunner{run: func(ctx context.Context, exe, input string) (string, error) {
		panic("boom")
	}}
	f := newFixture(t, &fakeToolchain{}, run, nil)
	st := f.waitDone(t, f.submit(t, "x"))
	if st.Outcome.Kind != model.OutcomeLaunchFailure {
		t.Fatalf("expected launch failure for internal error, got %+v", st.Outcome)
	}
	// The worker survives and keeps serving jobs.
	if next := f.waitDone(t, f.submit(t, "y")); !next.Done() {
		t.Fatalf("worker did not survive the panic")
	}
}

func TestSubmitRejectsOverCapacity(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &fakeToolchain{gate: gate}, &fakeRunner{}, func(cfg *service.Config) {
		cfg.Workers = 1
		cfg.QueueDepth = 1
	})

	first := f.submit(t, "a")
	second := f.submit(t, "b")
	_, err := f.svc.Submit(context.Background(), model.Submission{Code: "c"})
	if !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}
	if appErr.GetCode(err).HTTPStatus() != 503 {
		t.Fatalf("queue full should map to 503")
	}
	stats := f.svc.Stats()
	if stats.Capacity != 2 || stats.InFlight != 2 || stats.Jobs.Running != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	close(gate)
	f.waitDone(t, first)
	f.waitDone(t, second)
	// Capacity is released once jobs finish.
	testutil.Eventually(t, 5*time.Second, func() bool {
		return f.svc.Stats().InFlight == 0
	}, "tokens were not released")
	f.waitDone(t, f.submit(t, "d"))
}

func TestConcurrentJobsKeepTheirOwnResults(t *testing.T) {
	f := newFixture(t, &fakeToolchain{}, &fakeRunner{}, func(cfg *service.Config) {
		cfg.Workers = 4
		cfg.QueueDepth = 64
	})

	const n = 24
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := f.svc.Submit(context.Background(), model.Submission{Code: fmt.Sprintf("program %d", i)})
			if err != nil {
				t.Errorf("submit %d failed: %v", i, err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i, id := range ids {
		if id == "" {
			t.Fatalf("submission %d has no id", i)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		st := f.waitDone(t, id)
		if want := fmt.Sprintf("program %d", i); st.Outcome.Output != want {
			t.Fatalf("job %d got %q, want %q", i, st.Outcome.Output, want)
		}
	}
}

func TestInputIsPassedToRunner(t *testing.T) {
	var gotInput atomic.Value
	run := &fakeRunner{run: func(ctx context.Context, exe, input string) (string, error) {
		data, err := os.ReadFile(input)
		if err != nil {
			return "", err
		}
		gotInput.Store(string(data))
		return "ok", nil
	}}
	f := newFixture(t, &fakeToolchain{}, run, nil)
	input := "1 2\n"
	id, err := f.svc.Submit(context.Background(), model.Submission{Code: "x", Input: &input})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	st := f.waitDone(t, id)
	if st.Outcome.Kind != model.OutcomeSuccess {
		t.Fatalf("unexpected outcome: %+v", st.Outcome)
	}
	if gotInput.Load() != input {
		t.Fatalf("runner saw input %v", gotInput.Load())
	}
}

func TestArtifactsRemovedAfterDone(t *testing.T) {
	sink := &recordingSink{}
	f := newFixture(t, &fakeToolchain{}, &fakeRunner{}, func(cfg *service.Config) {
		cfg.Sinks = []service.OutcomeSink{sink}
	})
	id := f.submit(t, "source text")
	f.waitDone(t, id)

	workDir := filepath.Join(f.workRoot, id)
	testutil.Eventually(t, 5*time.Second, func() bool {
		_, err := os.Stat(workDir)
		return os.IsNotExist(err)
	}, "work dir was not removed")

	if sink.count() != 1 {
		t.Fatalf("sink should run once, ran %d times", sink.count())
	}
	// Sinks run before cleanup, so they still see the source.
	if sink.sources[0] != "source text" {
		t.Fatalf("sink did not see the source: %q", sink.sources[0])
	}
	if !sink.jobs[0].Status.Done() || sink.jobs[0].Status.ID != id {
		t.Fatalf("sink got wrong status: %+v", sink.jobs[0].Status)
	}
}

func TestKeepArtifacts(t *testing.T) {
	f := newFixture(t, &fakeToolchain{}, &fakeRunner{}, func(cfg *service.Config) {
		cfg.KeepArtifacts = true
	})
	id := f.submit(t, "keep me")
	f.waitDone(t, id)
	// Give the worker time to pass the cleanup step.
	testutil.Eventually(t, 5*time.Second, func() bool {
		return f.svc.Stats().InFlight == 0
	}, "job did not release its token")
	if _, err := os.Stat(filepath.Join(f.workRoot, id, "main.cpp")); err != nil {
		t.Fatalf("artifacts should be kept: %v", err)
	}
}

func TestSinkFailureDoesNotChangeOutcome(t *testing.T) {
	sink := &recordingSink{err: errors.New("redis down")}
	f := newFixture(t, &fakeToolchain{}, &fakeRunner{}, func(cfg *service.Config) {
		cfg.Sinks = []service.OutcomeSink{sink}
	})
	st := f.waitDone(t, f.submit(t, "out"))
	if st.Outcome.Kind != model.OutcomeSuccess || st.Outcome.Output != "out" {
		t.Fatalf("sink failure leaked into outcome: %+v", st.Outcome)
	}
}

type staticReader struct {
	statuses map[string]model.Status
}

func (r staticReader) Get(ctx context.Context, id string) (model.Status, error) {
	st, ok := r.statuses[id]
	if !ok {
		return model.Status{}, appErr.New(appErr.JobNotFound)
	}
	return st, nil
}

func TestResultFallsBackAfterRegistryMiss(t *testing.T) {
	out := model.Success("archived")
	reader := staticReader{statuses: map[string]model.Status{
		"old": {ID: "old", State: model.StateDone, Outcome: &out},
	}}
	f := newFixture(t, &fakeToolchain{}, &fakeRunner{}, func(cfg *service.Config) {
		cfg.Fallback = reader
	})

	st, err := f.svc.Result(context.Background(), "old")
	if err != nil || st.Outcome.Output != "archived" {
		t.Fatalf("fallback not used: %+v %v", st, err)
	}
	if _, err := f.svc.Result(context.Background(), "never"); !appErr.Is(err, appErr.JobNotFound) {
		t.Fatalf("expected JobNotFound, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, &fakeToolchain{}, &fakeRunner{}, func(cfg *service.Config) {
		cfg.MaxCodeBytes = 4
	})
	_, err := f.svc.Submit(context.Background(), model.Submission{Code: "too long"})
	if !appErr.Is(err, appErr.CodeTooLarge) {
		t.Fatalf("expected CodeTooLarge, got %v", err)
	}
	if f.registry.Stats().Running != 0 {
		t.Fatalf("rejected submission must not be registered")
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	svc, err := service.NewService(service.Config{
		Registry:  repository.NewRegistry(),
		Toolchain: &fakeToolchain{},
		Runner:    &fakeRunner{},
		WorkRoot:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	if _, err := svc.Submit(context.Background(), model.Submission{Code: "x"}); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable before start, got %v", err)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := service.NewService(service.Config{}); err == nil {
		t.Fatalf("expected error without registry")
	}
	if _, err := service.NewService(service.Config{Registry: repository.NewRegistry(), Toolchain: &fakeToolchain{}, Runner: &fakeRunner{}}); err == nil {
		t.Fatalf("expected error without work root")
	}
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	started := make(chan struct{}, 1)
	run := &fakeRunner{run: func(ctx context.Context, exe, input string) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", fmt.Errorf("%w: %v", runner.ErrCanceled, ctx.Err())
	}}
	registry := repository.NewRegistry()
	svc, err := service.NewService(service.Config{
		Registry:  registry,
		Toolchain: &fakeToolchain{},
		Runner:    run,
		WorkRoot:  t.TempDir(),
		Workers:   1,
	})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	svc.Start()

	id, err := svc.Submit(context.Background(), model.Submission{Code: "x"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	queued, err := svc.Submit(context.Background(), model.Submission{Code: "y"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	for _, jobID := range []string{id, queued} {
		st, ok := registry.Get(jobID)
		if !ok || !st.Done() || st.Outcome.Kind != model.OutcomeCanceled {
			t.Fatalf("job %s should be canceled, got %+v", jobID, st)
		}
	}
	if _, err := svc.Submit(context.Background(), model.Submission{Code: "z"}); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable after shutdown, got %v", err)
	}
	// Shutdown is idempotent.
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown failed: %v", err)
	}
}

func TestShutdownDeadlineMarksStuckJobsCanceled(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	run := &fakeRunner{run: func(ctx context.Context, exe, input string) (string, error) {
		started <- struct{}{}
		<-release
		return "late", nil
	}}
	registry := repository.NewRegistry()
	svc, err := service.NewService(service.Config{
		Registry:  registry,
		Toolchain: &fakeToolchain{},
		Runner:    run,
		WorkRoot:  t.TempDir(),
		Workers:   1,
	})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	svc.Start()
	id, err := svc.Submit(context.Background(), model.Submission{Code: "x"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	st, _ := registry.Get(id)
	if st.Outcome == nil || st.Outcome.Kind != model.OutcomeCanceled {
		t.Fatalf("stuck job should be canceled, got %+v", st)
	}
	close(release)
	// The late result must not overwrite the canceled outcome.
	time.Sleep(50 * time.Millisecond)
	st, _ = registry.Get(id)
	if st.Outcome.Kind != model.OutcomeCanceled {
		t.Fatalf("late outcome overwrote canceled: %+v", st.Outcome)
	}
}

func TestRetentionEvictsFinishedJobs(t *testing.T) {
	f := newFixture(t, &fakeToolchain{}, &fakeRunner{}, func(cfg *service.Config) {
		cfg.Retention = 10 * time.Millisecond
	})
	id := f.submit(t, "x")
	f.waitDone(t, id)
	testutil.Eventually(t, 5*time.Second, func() bool {
		_, ok := f.registry.Get(id)
		return !ok
	}, "finished job was not evicted")
	if _, err := f.svc.Result(context.Background(), id); !appErr.Is(err, appErr.JobNotFound) {
		t.Fatalf("evicted job should be not found, got %v", err)
	}
}
