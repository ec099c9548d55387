package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"codejudge/internal/common/cache"
	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/runner"
	"codejudge/internal/judge/toolchain"
	"codejudge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:3000"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultWorkRoot        = "data/jobs"
	defaultQuestionsDir    = "questions"
	defaultStaticDir       = "static"
	defaultStatusTTL       = 24 * time.Hour
	defaultOutcomeTopic    = "codejudge.outcome"
	defaultArchivePrefix   = "jobs"
	defaultRateWindow      = time.Minute
	defaultRatePerIP       = 30

	envPrefix = "CODEJUDGE_"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	StaticDir       string        `yaml:"staticDir"`
}

// JudgeConfig holds worker pool and job lifecycle settings.
type JudgeConfig struct {
	WorkRoot      string        `yaml:"workRoot"`
	Workers       int           `yaml:"workers"`
	QueueDepth    int           `yaml:"queueDepth"`
	// MaxCodeBytes caps submitted source size. Zero or less leaves it unlimited.
	MaxCodeBytes  int           `yaml:"maxCodeBytes"`
	Retention     time.Duration `yaml:"retention"`
	KeepArtifacts bool          `yaml:"keepArtifacts"`
	SinkTimeout   time.Duration `yaml:"sinkTimeout"`
}

// QuestionConfig holds question bank settings.
type QuestionConfig struct {
	Dir string `yaml:"dir"`
}

// StatusConfig mirrors finished jobs into Redis when enabled.
type StatusConfig struct {
	Enabled bool              `yaml:"enabled"`
	TTL     time.Duration     `yaml:"ttl"`
	Redis   cache.RedisConfig `yaml:"redis"`
}

// EventsConfig publishes finished jobs to Kafka when enabled.
type EventsConfig struct {
	Enabled bool           `yaml:"enabled"`
	Topic   string         `yaml:"topic"`
	Kafka   mq.KafkaConfig `yaml:"kafka"`
}

// ArchiveConfig uploads job artifacts to MinIO when enabled.
type ArchiveConfig struct {
	Enabled bool                `yaml:"enabled"`
	Prefix  string              `yaml:"prefix"`
	MinIO   storage.MinIOConfig `yaml:"minio"`
}

// AppConfig holds judge-server config.
type AppConfig struct {
	Server    ServerConfig             `yaml:"server"`
	Logger    logger.Config            `yaml:"logger"`
	CORS      commonmw.CORSConfig      `yaml:"cors"`
	RateLimit commonmw.RateLimitConfig `yaml:"rateLimit"`
	Judge     JudgeConfig              `yaml:"judge"`
	Toolchain toolchain.Config         `yaml:"toolchain"`
	Runner    runner.Config            `yaml:"runner"`
	Questions QuestionConfig           `yaml:"questions"`
	Status    StatusConfig             `yaml:"status"`
	Events    EventsConfig             `yaml:"events"`
	Archive   ArchiveConfig            `yaml:"archive"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path when it exists, applies CODEJUDGE_* overrides and
// fills defaults. A missing file at the default path is not an error.
func loadAppConfig(path string, required bool) (*AppConfig, error) {
	var cfg AppConfig
	cfg.CORS = commonmw.PermissiveCORS()
	if path != "" {
		if _, err := os.Stat(path); err == nil || required {
			if err := loadYAML(path, &cfg); err != nil {
				return nil, err
			}
		}
	}
	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Server.StaticDir == "" {
		cfg.Server.StaticDir = defaultStaticDir
	}
	if cfg.Judge.WorkRoot == "" {
		cfg.Judge.WorkRoot = defaultWorkRoot
	}
	if cfg.Judge.Workers <= 0 {
		cfg.Judge.Workers = runtime.NumCPU()
	}
	if cfg.Judge.QueueDepth == 0 {
		cfg.Judge.QueueDepth = 2 * cfg.Judge.Workers
	}
	if cfg.Questions.Dir == "" {
		cfg.Questions.Dir = defaultQuestionsDir
	}
	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = defaultRateWindow
	}
	if cfg.RateLimit.PerIP == 0 {
		cfg.RateLimit.PerIP = defaultRatePerIP
	}
	if cfg.needsRedis() {
		cfg.Status.Redis.ApplyDefaults()
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = defaultOutcomeTopic
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = defaultArchivePrefix
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "console"
	}
}

// needsRedis reports whether any enabled feature uses the status Redis.
func (c *AppConfig) needsRedis() bool {
	return c.Status.Enabled || c.RateLimit.Enabled
}

func validate(cfg *AppConfig) error {
	if cfg.needsRedis() && cfg.Status.Redis.Addr == "" {
		return fmt.Errorf("status.redis.addr is required when status mirroring or rate limiting is enabled")
	}
	if cfg.Events.Enabled && len(cfg.Events.Kafka.Brokers) == 0 {
		return fmt.Errorf("events.kafka.brokers is required when outcome events are enabled")
	}
	if cfg.Archive.Enabled && cfg.Archive.MinIO.Bucket == "" {
		return fmt.Errorf("archive.minio.bucket is required when archiving is enabled")
	}
	if cfg.Judge.Retention > 0 && !cfg.Status.Enabled {
		return fmt.Errorf("judge.retention requires status.enabled, evicted jobs would have no result")
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnvOverrides maps CODEJUDGE_* variables onto cfg. Only the settings
// an operator commonly changes per deployment are exposed.
func applyEnvOverrides(cfg *AppConfig, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = d
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("ADDR", &cfg.Server.Addr)
	str("STATIC_DIR", &cfg.Server.StaticDir)
	str("WORK_ROOT", &cfg.Judge.WorkRoot)
	str("QUESTIONS_DIR", &cfg.Questions.Dir)
	str("COMPILE_COMMAND", &cfg.Toolchain.CompileCommand)
	str("LOG_LEVEL", &cfg.Logger.Level)
	str("LOG_FORMAT", &cfg.Logger.Format)
	str("REDIS_ADDR", &cfg.Status.Redis.Addr)
	str("MINIO_ENDPOINT", &cfg.Archive.MinIO.Endpoint)
	str("MINIO_BUCKET", &cfg.Archive.MinIO.Bucket)
	str("MINIO_ACCESS_KEY", &cfg.Archive.MinIO.AccessKey)
	str("MINIO_SECRET_KEY", &cfg.Archive.MinIO.SecretKey)
	if v, ok := lookup(envPrefix + "KAFKA_BROKERS"); ok && v != "" {
		cfg.Events.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup(envPrefix + "RUN_LAUNCHER"); ok && v != "" {
		cfg.Runner.Launcher = strings.Fields(v)
	}

	for _, err := range []error{
		num("WORKERS", &cfg.Judge.Workers),
		num("QUEUE_DEPTH", &cfg.Judge.QueueDepth),
		num("MAX_CODE_BYTES", &cfg.Judge.MaxCodeBytes),
		num("OUTPUT_LIMIT", &cfg.Runner.OutputLimit),
		num("RATE_LIMIT_PER_IP", &cfg.RateLimit.PerIP),
		dur("RUN_TIMEOUT", &cfg.Runner.Timeout),
		dur("COMPILE_TIMEOUT", &cfg.Toolchain.Timeout),
		dur("RETENTION", &cfg.Judge.Retention),
		flag("KEEP_ARTIFACTS", &cfg.Judge.KeepArtifacts),
		flag("STATUS_ENABLED", &cfg.Status.Enabled),
		flag("EVENTS_ENABLED", &cfg.Events.Enabled),
		flag("ARCHIVE_ENABLED", &cfg.Archive.Enabled),
		flag("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
