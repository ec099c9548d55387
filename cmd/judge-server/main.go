package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codejudge/internal/common/cache"
	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	judgecontroller "codejudge/internal/judge/controller"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/runner"
	"codejudge/internal/judge/service"
	"codejudge/internal/judge/toolchain"
	questioncontroller "codejudge/internal/question/controller"
	questionrepo "codejudge/internal/question/repository"
	"codejudge/pkg/utils/logger"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge-server.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	appCfg, err := loadAppConfig(*configPath, *configPath != defaultConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	var redisCache *cache.RedisCache
	if appCfg.needsRedis() {
		var err error
		redisCache, err = cache.NewRedisCacheWithConfig(appCfg.Status.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() { _ = redisCache.Close() }()
	}

	sinks, fallback, closers, err := buildSinks(ctx, appCfg, redisCache)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	if err != nil {
		return err
	}

	tc, err := toolchain.New(appCfg.Toolchain, os.Stdout, os.Stderr)
	if err != nil {
		return fmt.Errorf("init toolchain failed: %w", err)
	}
	registry := repository.NewRegistry()
	defer registry.Close()

	judgeSvc, err := service.NewService(service.Config{
		Registry:      registry,
		Toolchain:     tc,
		Runner:        runner.New(appCfg.Runner),
		Sinks:         sinks,
		Fallback:      fallback,
		WorkRoot:      appCfg.Judge.WorkRoot,
		Workers:       appCfg.Judge.Workers,
		QueueDepth:    appCfg.Judge.QueueDepth,
		MaxCodeBytes:  appCfg.Judge.MaxCodeBytes,
		SinkTimeout:   appCfg.Judge.SinkTimeout,
		Retention:     appCfg.Judge.Retention,
		KeepArtifacts: appCfg.Judge.KeepArtifacts,
	})
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}
	judgeSvc.Start()

	questions := questionrepo.NewFileRepository(appCfg.Questions.Dir)
	var limiter *commonmw.RateLimiter
	if appCfg.RateLimit.Enabled {
		limiter = commonmw.NewRateLimiter(redisCache, appCfg.RateLimit.Timeout)
		logger.Info(ctx, "submit rate limit enabled",
			zap.Int("per_ip", appCfg.RateLimit.PerIP),
			zap.Duration("window", appCfg.RateLimit.Window),
		)
	}
	httpServer := buildHTTPServer(appCfg, judgeSvc, questions, limiter)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		_ = judgeSvc.Shutdown(ctx)
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge http server started",
			zap.String("addr", listener.Addr().String()),
			zap.Int("workers", appCfg.Judge.Workers),
			zap.Int("queue_depth", appCfg.Judge.QueueDepth),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, appCfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if err := judgeSvc.Shutdown(timeoutCtx); err != nil {
		logger.Warn(ctx, "judge service shutdown incomplete", zap.Error(err))
	}
	return nil
}

// buildSinks connects the optional outcome sinks. Closers are returned even on
// error so the caller can release what was already opened. redisCache is nil
// unless a Redis-backed feature is enabled.
func buildSinks(ctx context.Context, cfg *AppConfig, redisCache *cache.RedisCache) ([]service.OutcomeSink, service.StatusReader, []io.Closer, error) {
	var (
		sinks    []service.OutcomeSink
		fallback service.StatusReader
		closers  []io.Closer
	)

	if cfg.Status.Enabled && redisCache != nil {
		mirror := repository.NewStatusMirror(redisCache, cfg.Status.TTL)
		sinks = append(sinks, mirror)
		fallback = mirror
		logger.Info(ctx, "redis status mirror enabled", zap.String("addr", cfg.Status.Redis.Addr))
	}

	if cfg.Events.Enabled {
		producer, err := mq.NewKafkaProducer(cfg.Events.Kafka)
		if err != nil {
			return nil, nil, closers, fmt.Errorf("init kafka failed: %w", err)
		}
		closers = append(closers, producer)
		sinks = append(sinks, repository.NewOutcomePublisher(producer, cfg.Events.Topic))
		logger.Info(ctx, "kafka outcome events enabled", zap.String("topic", cfg.Events.Topic))
	}

	if cfg.Archive.Enabled {
		store, err := storage.NewMinIOStorage(cfg.Archive.MinIO)
		if err != nil {
			return nil, nil, closers, fmt.Errorf("init minio failed: %w", err)
		}
		if err := store.EnsureBucket(ctx, cfg.Archive.MinIO.Bucket); err != nil {
			return nil, nil, closers, fmt.Errorf("ensure minio bucket failed: %w", err)
		}
		sinks = append(sinks, repository.NewArtifactArchiver(store, cfg.Archive.MinIO.Bucket, cfg.Archive.Prefix))
		logger.Info(ctx, "minio artifact archive enabled", zap.String("bucket", cfg.Archive.MinIO.Bucket))
	}

	return sinks, fallback, closers, nil
}

func buildHTTPServer(cfg *AppConfig, jobs judgecontroller.JobService, questions questioncontroller.Repository, limiter *commonmw.RateLimiter) *http.Server {
	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      buildRouter(cfg, jobs, questions, limiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func buildRouter(cfg *AppConfig, jobs judgecontroller.JobService, questions questioncontroller.Repository, limiter *commonmw.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))

	judgecontroller.NewJudgeController(jobs).Register(router,
		commonmw.RateLimitMiddleware(limiter, "submit", cfg.RateLimit))
	questioncontroller.NewQuestionController(questions).Register(router)

	static := http.FileServer(http.Dir(cfg.Server.StaticDir))
	router.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			response.NotFound(c, "route not found")
			return
		}
		static.ServeHTTP(c.Writer, c.Request)
	})
	return router
}
