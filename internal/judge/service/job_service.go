package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"codejudge/internal/common/limiter"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/runner"
	"codejudge/internal/judge/toolchain"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	sourceFileName = "main.cpp"
	binaryFileName = "main"
	inputFileName  = "input.txt"

	defaultSinkTimeout = 5 * time.Second
	minJanitorInterval = time.Second
)

// Toolchain writes and compiles sources.
type Toolchain interface {
	Write(code, path string) error
	Compile(ctx context.Context, src, out string) error
}

// Runner executes a compiled binary.
type Runner interface {
	Run(ctx context.Context, exe, inputPath string) (string, error)
}

// OutcomeSink receives every finished job after the registry records it.
// Sink errors are logged and never change the outcome.
type OutcomeSink interface {
	Name() string
	Record(ctx context.Context, job model.FinishedJob) error
}

// StatusReader resolves ids the registry no longer holds.
type StatusReader interface {
	Get(ctx context.Context, id string) (model.Status, error)
}

// Config holds service dependencies and settings.
type Config struct {
	Registry  *repository.Registry
	Toolchain Toolchain
	Runner    Runner
	Sinks     []OutcomeSink
	Fallback  StatusReader

	WorkRoot string
	// Workers defaults to the number of CPUs; QueueDepth to twice that.
	Workers    int
	QueueDepth int
	// MaxCodeBytes rejects larger submissions. Zero disables the check.
	MaxCodeBytes  int
	SinkTimeout   time.Duration
	Retention     time.Duration
	KeepArtifacts bool
}

// Stats is a snapshot of pool and registry counters.
type Stats struct {
	Workers  int                      `json:"workers"`
	Capacity int                      `json:"capacity"`
	InFlight int                      `json:"in_flight"`
	Jobs     repository.RegistryStats `json:"jobs"`
}

type task struct {
	id  string
	sub model.Submission
}

// Service accepts submissions and drives each through write, compile and run
// on a bounded worker pool.
type Service struct {
	registry      *repository.Registry
	toolchain     Toolchain
	runner        Runner
	sinks         []OutcomeSink
	fallback      StatusReader
	workRoot      string
	workers       int
	maxCodeBytes  int
	sinkTimeout   time.Duration
	retention     time.Duration
	keepArtifacts bool

	admit  *limiter.TokenLimiter
	queue  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewService validates cfg and builds a stopped service. Call Start before Submit.
func NewService(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Toolchain == nil {
		return nil, fmt.Errorf("toolchain is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	depth := cfg.QueueDepth
	if depth < 0 {
		depth = 0
	} else if depth == 0 {
		depth = 2 * workers
	}
	sinkTimeout := cfg.SinkTimeout
	if sinkTimeout <= 0 {
		sinkTimeout = defaultSinkTimeout
	}
	capacity := workers + depth

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		registry:      cfg.Registry,
		toolchain:     cfg.Toolchain,
		runner:        cfg.Runner,
		sinks:         cfg.Sinks,
		fallback:      cfg.Fallback,
		workRoot:      cfg.WorkRoot,
		workers:       workers,
		maxCodeBytes:  cfg.MaxCodeBytes,
		sinkTimeout:   sinkTimeout,
		retention:     cfg.Retention,
		keepArtifacts: cfg.KeepArtifacts,
		admit:         limiter.NewTokenLimiter(capacity),
		queue:         make(chan task, capacity),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the worker pool and, when retention is set, the registry janitor.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	if s.retention > 0 {
		s.wg.Add(1)
		go s.janitor()
	}
	logger.Info(s.ctx, "job pool started",
		zap.Int("workers", s.workers),
		zap.Int("capacity", s.admit.Capacity()),
	)
}

// Submit registers a job and queues it. It returns as soon as the job is
// Running; the pipeline itself runs on a worker.
func (s *Service) Submit(ctx context.Context, sub model.Submission) (string, error) {
	if s.maxCodeBytes > 0 && len(sub.Code) > s.maxCodeBytes {
		return "", appErr.Newf(appErr.CodeTooLarge, "code exceeds %d bytes", s.maxCodeBytes)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped || !s.started {
		return "", appErr.Unavailable("judge service is not accepting jobs")
	}
	if !s.admit.TryAcquire() {
		return "", appErr.New(appErr.JudgeQueueFull)
	}

	id, err := newJobID()
	if err != nil {
		s.admit.Release()
		return "", appErr.Wrapf(err, appErr.JobCreateFailed, "allocate job id failed")
	}
	if err := s.registry.Create(id); err != nil {
		s.admit.Release()
		return "", err
	}
	// Capacity of queue equals the token count, so this send never blocks.
	s.queue <- task{id: id, sub: sub}

	if lang := normalizeLang(sub.Lang); lang != "cpp" {
		logger.Debug(ctx, "non-cpp language tag compiled as cpp", zap.String("job_id", id), zap.String("lang", sub.Lang))
	}
	logger.Info(ctx, "job accepted", zap.String("job_id", id), zap.Int("code_bytes", len(sub.Code)))
	return id, nil
}

// Result returns the current status of id, falling back to the mirror for
// ids the registry has evicted or never held.
func (s *Service) Result(ctx context.Context, id string) (model.Status, error) {
	if st, ok := s.registry.Get(id); ok {
		return st, nil
	}
	if s.fallback != nil {
		st, err := s.fallback.Get(ctx, id)
		if err == nil {
			return st, nil
		}
		if !appErr.Is(err, appErr.JobNotFound) {
			logger.Warn(ctx, "status fallback failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	return model.Status{}, appErr.Newf(appErr.JobNotFound, "job %s not found", id)
}

// Stats returns pool and registry counters.
func (s *Service) Stats() Stats {
	return Stats{
		Workers:  s.workers,
		Capacity: s.admit.Capacity(),
		InFlight: s.admit.Capacity() - s.admit.Available(),
		Jobs:     s.registry.Stats(),
	}
}

// Shutdown stops admission, kills running children and waits for workers.
// Queued and running jobs finish as canceled. If ctx ends first, every job
// still running is marked canceled before returning.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, id := range s.registry.Running() {
			_ = s.registry.SetDone(id, model.Canceled("service stopped before the job finished"))
		}
		return ctx.Err()
	}
}

func (s *Service) work() {
	defer s.wg.Done()
	for t := range s.queue {
		s.process(t)
	}
}

func (s *Service) process(t task) {
	defer s.admit.Release()
	ctx := logger.WithJobID(s.ctx, t.id)
	start := time.Now()

	workDir := filepath.Join(s.workRoot, t.id)
	outcome := s.execute(ctx, t, workDir)

	if err := s.registry.SetDone(t.id, outcome); err != nil {
		logger.Warn(ctx, "record outcome failed", zap.Error(err))
	}
	logger.Info(ctx, "job finished",
		zap.String("kind", string(outcome.Kind)),
		zap.Int("exit_code", outcome.ExitCode),
		zap.Duration("duration", time.Since(start)),
	)

	if st, ok := s.registry.Get(t.id); ok && st.Done() {
		s.notifySinks(ctx, model.FinishedJob{
			Status:     st,
			Submission: t.sub,
			WorkDir:    workDir,
			SourcePath: filepath.Join(workDir, sourceFileName),
		})
	}
	if !s.keepArtifacts {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn(ctx, "remove job artifacts failed", zap.String("dir", workDir), zap.Error(err))
		}
	}
}

// execute runs the pipeline. It always returns exactly one outcome.
func (s *Service) execute(ctx context.Context, t task, workDir string) (outcome model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "job pipeline panic", zap.Any("panic", r))
			outcome = model.LaunchFailure(fmt.Sprintf("internal error: %v", r))
		}
	}()
	if ctx.Err() != nil {
		return model.Canceled("service shutting down")
	}

	src := filepath.Join(workDir, sourceFileName)
	bin := filepath.Join(workDir, binaryFileName)

	stage := time.Now()
	if err := s.toolchain.Write(t.sub.Code, src); err != nil {
		return model.WriteFailure(err.Error())
	}
	inputPath := ""
	if t.sub.Input != nil {
		inputPath = filepath.Join(workDir, inputFileName)
		if err := s.toolchain.Write(*t.sub.Input, inputPath); err != nil {
			return model.WriteFailure(err.Error())
		}
	}
	logger.Debug(ctx, "stage done", zap.String("stage", "write"), zap.Duration("duration", time.Since(stage)))

	stage = time.Now()
	if err := s.toolchain.Compile(ctx, src, bin); err != nil {
		if ctx.Err() != nil {
			return model.Canceled("service shutting down")
		}
		var ce *toolchain.CompileError
		if errors.As(err, &ce) {
			return model.CompileFailure(ce.Detail(), ce.ExitCode)
		}
		return model.CompileFailure(err.Error(), -1)
	}
	logger.Debug(ctx, "stage done", zap.String("stage", "compile"), zap.Duration("duration", time.Since(stage)))

	stage = time.Now()
	output, err := s.runner.Run(ctx, bin, inputPath)
	logger.Debug(ctx, "stage done", zap.String("stage", "run"), zap.Duration("duration", time.Since(stage)))
	if err != nil {
		return runOutcome(err)
	}
	return model.Success(output)
}

func runOutcome(err error) model.Outcome {
	var (
		launchErr  *runner.LaunchError
		runtimeErr *runner.RuntimeError
		timeoutErr *runner.TimeoutError
	)
	switch {
	case errors.Is(err, runner.ErrCanceled):
		return model.Canceled("service shutting down")
	case errors.As(err, &timeoutErr):
		return model.Timeout(timeoutErr.Error())
	case errors.As(err, &launchErr):
		return model.LaunchFailure(launchErr.Err.Error())
	case errors.As(err, &runtimeErr):
		return model.RuntimeFailure(runtimeErr.Detail(), runtimeErr.ExitCode)
	default:
		return model.RuntimeFailure(err.Error(), -1)
	}
}

func (s *Service) notifySinks(ctx context.Context, job model.FinishedJob) {
	if len(s.sinks) == 0 {
		return
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sinkTimeout)
	defer cancel()
	for _, sink := range s.sinks {
		if err := sink.Record(sinkCtx, job); err != nil {
			logger.Warn(ctx, "outcome sink failed", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
}

func (s *Service) janitor() {
	defer s.wg.Done()
	interval := s.retention / 2
	if interval < minJanitorInterval {
		interval = minJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.registry.Evict(now.Add(-s.retention)); n > 0 {
				logger.Info(s.ctx, "evicted finished jobs", zap.Int("count", n))
			}
		}
	}
}

func newJobID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

func normalizeLang(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "cpp", "c++", "cxx", "cc":
		return "cpp"
	default:
		return strings.ToLower(lang)
	}
}
