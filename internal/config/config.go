// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

type Backoff struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type TracingConfig struct {
	Enabled               bool              `mapstructure:"enabled"`
	Endpoint              string            `mapstructure:"endpoint"`
	Environment           string            `mapstructure:"environment"`
	SamplingStrategy      string            `mapstructure:"sampling_strategy"`
	SamplingRate          float64           `mapstructure:"sampling_rate"`
	BatchTimeout          time.Duration     `mapstructure:"batch_timeout"`
	MaxExportBatchSize    int               `mapstructure:"max_export_batch_size"`
	Headers               map[string]string `mapstructure:"headers"`
	Insecure              bool              `mapstructure:"insecure"`
	PropagationFormat     string            `mapstructure:"propagation_format"`
	AttributeAllowlist    []string          `mapstructure:"attribute_allowlist"`
	RedactSensitive       bool              `mapstructure:"redact_sensitive"`
	EnableMetricExemplars bool              `mapstructure:"enable_metric_exemplars"`
}

// Tracing is a backwards-compatible alias
type Tracing = TracingConfig

type ObservabilityConfig struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	Tracing     TracingConfig `mapstructure:"tracing"`
	AuditPath   string        `mapstructure:"audit_path"`
	StatusPort  int           `mapstructure:"status_port"`
}

// Observability is a backwards-compatible alias
type Observability = ObservabilityConfig

// Driver holds retry and safety bounds for the Cluster Driver. Load fills
// and Validate checks them, but nothing else reads them: KubeDriver uses its
// own fixed backoff and replica constants, and cmd/controller builds its
// client from the ambient kubeconfig rather than KubeconfigPath.
type Driver struct {
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	BackoffMaxDelay   time.Duration `mapstructure:"backoff_max_delay"`
	BackoffMaxRetries int           `mapstructure:"backoff_max_retries"`
	MaxReplicas       int           `mapstructure:"max_replicas"`
	KubeconfigPath    string        `mapstructure:"kubeconfig_path"`
}

// RateLimit configures the sliding-window limiter's eviction cadence
// (SweepInterval, passed to the janitor). UseRedisStore and RedisKeyPrefix
// are not read: cmd/controller always builds the in-memory Limiter.
type RateLimit struct {
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	UseRedisStore   bool          `mapstructure:"use_redis_store"`
	RedisKeyPrefix  string        `mapstructure:"redis_key_prefix"`
}

// PriceTable configures the cost-ceiling rule's hourly rate lookup.
type PriceTable struct {
	CPUCoreHour  float64            `mapstructure:"cpu_core_hour"`
	MemGBHour    float64            `mapstructure:"mem_gb_hour"`
	GPUHourBySKU map[string]float64 `mapstructure:"gpu_hour_by_sku"`
	S3Bucket     string             `mapstructure:"s3_bucket"`
	S3Key        string             `mapstructure:"s3_key"`
	S3Region     string             `mapstructure:"s3_region"`
}

// Policy holds a default evaluation mode. Nothing reads it: the mode is
// passed to each SubmitActionPlan call.
type Policy struct {
	DefaultMode string `mapstructure:"default_mode"`
}

// Canary holds progressive-rollout parameters. Load fills and Validate
// checks them, but the plan executor starts every canary with
// canary.DefaultConfig() and does not read this section.
type Canary struct {
	InitialPercent   int           `mapstructure:"initial_percent"`
	IncrementPercent int           `mapstructure:"increment_percent"`
	StepDuration     time.Duration `mapstructure:"step_duration"`
	MinHealthScore   float64       `mapstructure:"min_health_score"`
	AnalysisSamples  int           `mapstructure:"analysis_samples"`
	MaxDuration      time.Duration `mapstructure:"max_duration"`
	AutoPromote      bool          `mapstructure:"auto_promote"`
	AbortOnFailure   bool          `mapstructure:"abort_on_failure"`
}

// Rollback configures the Rollback Controller's monitor loop. cmd/controller
// reads only CheckTick; per-deployment thresholds come from the
// rollback.Config passed to Register, and the other fields here are not read.
type Rollback struct {
	CheckTick               time.Duration `mapstructure:"check_tick"`
	MinHealthScore          float64       `mapstructure:"min_health_score"`
	CheckInterval           time.Duration `mapstructure:"check_interval"`
	ConsecutiveBadThreshold int           `mapstructure:"consecutive_bad_threshold"`
	Cooldown                time.Duration `mapstructure:"cooldown"`
}

// PlanExecutor configures the Plan Executor's concurrency and timeout
// defaults.
type PlanExecutor struct {
	MaxConcurrentPlans int           `mapstructure:"max_concurrent_plans"`
	DefaultTimeout     time.Duration `mapstructure:"default_timeout"`
}

// EventBus configures the NATS JetStream publisher and its SQLite outbox.
type EventBus struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	OutboxPath    string `mapstructure:"outbox_path"`
	WorkerID      string `mapstructure:"worker_id"`
	DrainBatch    int    `mapstructure:"drain_batch"`
}

// Janitor configures the periodic sweep schedule.
type Janitor struct {
	SweepCron string `mapstructure:"sweep_cron"`
}

// HealthHistory configures the optional ClickHouse-backed archive of
// HealthSnapshot rows that the sla rule's 7-day uptime figure is computed
// from. Archival runs only when Enabled is set, and then DSN is required;
// when disabled, ObservedUptime7d falls back to the decision's own
// observed_uptime_7d param.
type HealthHistory struct {
	Enabled  bool          `mapstructure:"enabled"`
	DSN      string        `mapstructure:"dsn"`
	Database string        `mapstructure:"database"`
	Table    string        `mapstructure:"table"`
	Window   time.Duration `mapstructure:"window"`
}

type Config struct {
	Redis          Redis          `mapstructure:"redis"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability  Observability  `mapstructure:"observability"`
	Driver         Driver         `mapstructure:"driver"`
	RateLimit      RateLimit      `mapstructure:"rate_limit"`
	PriceTable     PriceTable     `mapstructure:"price_table"`
	Policy         Policy         `mapstructure:"policy"`
	Canary         Canary         `mapstructure:"canary"`
	Rollback       Rollback       `mapstructure:"rollback"`
	PlanExecutor   PlanExecutor   `mapstructure:"plan_executor"`
	EventBus       EventBus       `mapstructure:"event_bus"`
	Janitor        Janitor        `mapstructure:"janitor"`
	HealthHistory  HealthHistory  `mapstructure:"health_history"`
}

func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
		},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     Tracing{Enabled: false},
			AuditPath:   "./data/audit.log",
			StatusPort:  9091,
		},
		Driver: Driver{
			BackoffBase:       1 * time.Second,
			BackoffFactor:     2.0,
			BackoffMaxDelay:   30 * time.Second,
			BackoffMaxRetries: 5,
			MaxReplicas:       10000,
		},
		RateLimit: RateLimit{
			SweepInterval:  5 * time.Minute,
			UseRedisStore:  false,
			RedisKeyPrefix: "workload-controller:ratelimit:",
		},
		PriceTable: PriceTable{
			CPUCoreHour: 0.04,
			MemGBHour:   0.005,
		},
		Policy: Policy{
			DefaultMode: "enforce",
		},
		Canary: Canary{
			InitialPercent:   10,
			IncrementPercent: 10,
			StepDuration:     300 * time.Second,
			MinHealthScore:   0.85,
			AnalysisSamples:  3,
			MaxDuration:      3600 * time.Second,
			AutoPromote:      true,
			AbortOnFailure:   true,
		},
		Rollback: Rollback{
			CheckTick:               10 * time.Second,
			MinHealthScore:          0.70,
			CheckInterval:           30 * time.Second,
			ConsecutiveBadThreshold: 3,
			Cooldown:                300 * time.Second,
		},
		PlanExecutor: PlanExecutor{
			MaxConcurrentPlans: 16,
			DefaultTimeout:     5 * time.Minute,
		},
		EventBus: EventBus{
			NATSURL:       "nats://localhost:4222",
			SubjectPrefix: "workload-controller",
			OutboxPath:    "./data/outbox.db",
			WorkerID:      "controller-0",
			DrainBatch:    100,
		},
		Janitor: Janitor{
			SweepCron: "*/5 * * * *",
		},
		HealthHistory: HealthHistory{
			Enabled:  false,
			Database: "workload_controller",
			Table:    "health_snapshots",
			Window:   7 * 24 * time.Hour,
		},
	}
}

// Load reads configuration from YAML file and env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)
	v.SetDefault("observability.audit_path", def.Observability.AuditPath)
	v.SetDefault("observability.status_port", def.Observability.StatusPort)

	v.SetDefault("driver.backoff_base", def.Driver.BackoffBase)
	v.SetDefault("driver.backoff_factor", def.Driver.BackoffFactor)
	v.SetDefault("driver.backoff_max_delay", def.Driver.BackoffMaxDelay)
	v.SetDefault("driver.backoff_max_retries", def.Driver.BackoffMaxRetries)
	v.SetDefault("driver.max_replicas", def.Driver.MaxReplicas)
	v.SetDefault("driver.kubeconfig_path", def.Driver.KubeconfigPath)

	v.SetDefault("rate_limit.sweep_interval", def.RateLimit.SweepInterval)
	v.SetDefault("rate_limit.use_redis_store", def.RateLimit.UseRedisStore)
	v.SetDefault("rate_limit.redis_key_prefix", def.RateLimit.RedisKeyPrefix)

	v.SetDefault("price_table.cpu_core_hour", def.PriceTable.CPUCoreHour)
	v.SetDefault("price_table.mem_gb_hour", def.PriceTable.MemGBHour)
	v.SetDefault("price_table.gpu_hour_by_sku", def.PriceTable.GPUHourBySKU)

	v.SetDefault("policy.default_mode", def.Policy.DefaultMode)

	v.SetDefault("canary.initial_percent", def.Canary.InitialPercent)
	v.SetDefault("canary.increment_percent", def.Canary.IncrementPercent)
	v.SetDefault("canary.step_duration", def.Canary.StepDuration)
	v.SetDefault("canary.min_health_score", def.Canary.MinHealthScore)
	v.SetDefault("canary.analysis_samples", def.Canary.AnalysisSamples)
	v.SetDefault("canary.max_duration", def.Canary.MaxDuration)
	v.SetDefault("canary.auto_promote", def.Canary.AutoPromote)
	v.SetDefault("canary.abort_on_failure", def.Canary.AbortOnFailure)

	v.SetDefault("rollback.check_tick", def.Rollback.CheckTick)
	v.SetDefault("rollback.min_health_score", def.Rollback.MinHealthScore)
	v.SetDefault("rollback.check_interval", def.Rollback.CheckInterval)
	v.SetDefault("rollback.consecutive_bad_threshold", def.Rollback.ConsecutiveBadThreshold)
	v.SetDefault("rollback.cooldown", def.Rollback.Cooldown)

	v.SetDefault("plan_executor.max_concurrent_plans", def.PlanExecutor.MaxConcurrentPlans)
	v.SetDefault("plan_executor.default_timeout", def.PlanExecutor.DefaultTimeout)

	v.SetDefault("event_bus.nats_url", def.EventBus.NATSURL)
	v.SetDefault("event_bus.subject_prefix", def.EventBus.SubjectPrefix)
	v.SetDefault("event_bus.outbox_path", def.EventBus.OutboxPath)
	v.SetDefault("event_bus.worker_id", def.EventBus.WorkerID)
	v.SetDefault("event_bus.drain_batch", def.EventBus.DrainBatch)

	v.SetDefault("janitor.sweep_cron", def.Janitor.SweepCron)

	v.SetDefault("health_history.enabled", def.HealthHistory.Enabled)
	v.SetDefault("health_history.dsn", def.HealthHistory.DSN)
	v.SetDefault("health_history.database", def.HealthHistory.Database)
	v.SetDefault("health_history.table", def.HealthHistory.Table)
	v.SetDefault("health_history.window", def.HealthHistory.Window)

	// Optional file read
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	if cfg.Observability.StatusPort <= 0 || cfg.Observability.StatusPort > 65535 {
		return fmt.Errorf("observability.status_port must be 1..65535")
	}
	if cfg.Driver.MaxReplicas < 1 {
		return fmt.Errorf("driver.max_replicas must be >= 1")
	}
	if cfg.Driver.BackoffMaxRetries < 1 {
		return fmt.Errorf("driver.backoff_max_retries must be >= 1")
	}
	if cfg.Canary.InitialPercent < 1 || cfg.Canary.InitialPercent > 100 {
		return fmt.Errorf("canary.initial_percent must be 1..100")
	}
	if cfg.Canary.AnalysisSamples < 1 {
		return fmt.Errorf("canary.analysis_samples must be >= 1")
	}
	if cfg.Rollback.ConsecutiveBadThreshold < 1 {
		return fmt.Errorf("rollback.consecutive_bad_threshold must be >= 1")
	}
	if cfg.PlanExecutor.MaxConcurrentPlans < 1 {
		return fmt.Errorf("plan_executor.max_concurrent_plans must be >= 1")
	}
	if cfg.PlanExecutor.DefaultTimeout <= 0 {
		return fmt.Errorf("plan_executor.default_timeout must be > 0")
	}
	return nil
}
