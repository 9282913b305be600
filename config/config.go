package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 服务全部配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Queue     QueueConfig     `mapstructure:"queue"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// FeedConfig 缓存窗口与分页参数
type FeedConfig struct {
	WindowLength    int           `mapstructure:"window_length"` // L
	WindowTTL       time.Duration `mapstructure:"window_ttl"`
	CounterTTL      time.Duration `mapstructure:"counter_ttl"`
	ItemTTL         time.Duration `mapstructure:"item_ttl"`
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
}

// FanoutConfig 扇出批次参数
type FanoutConfig struct {
	BatchSize      int           `mapstructure:"batch_size"` // B
	BatchTimeLimit time.Duration `mapstructure:"batch_time_limit"`
	RetryBudget    time.Duration `mapstructure:"retry_budget"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepGrace     time.Duration `mapstructure:"sweep_grace"`
	SweepLimit     int           `mapstructure:"sweep_limit"`
}

// QueueConfig 任务队列后端
type QueueConfig struct {
	Backend           string        `mapstructure:"backend"` // memory, redis, kafka
	Workers           int           `mapstructure:"workers"`
	ReadBatch         int           `mapstructure:"read_batch"` // redis/kafka 每次拉取条数
	Stream            string        `mapstructure:"stream"`
	Group             string        `mapstructure:"group"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	KafkaBrokers      []string      `mapstructure:"kafka_brokers"`
	KafkaTopic        string        `mapstructure:"kafka_topic"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type RateLimitConfig struct {
	ReadRPS    float64 `mapstructure:"read_rps"`
	ReadBurst  int     `mapstructure:"read_burst"`
	WriteRPS   float64 `mapstructure:"write_rps"`
	WriteBurst int     `mapstructure:"write_burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=newsfeed port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("feed.window_length", 1000)
	v.SetDefault("feed.window_ttl", 24*time.Hour)
	v.SetDefault("feed.counter_ttl", 24*time.Hour)
	v.SetDefault("feed.item_ttl", time.Hour)
	v.SetDefault("feed.default_page_size", 20)
	v.SetDefault("feed.max_page_size", 100)

	v.SetDefault("fanout.batch_size", 100)
	v.SetDefault("fanout.batch_time_limit", 30*time.Second)
	v.SetDefault("fanout.retry_budget", 10*time.Minute)
	v.SetDefault("fanout.max_attempts", 5)
	v.SetDefault("fanout.sweep_interval", 30*time.Second)
	v.SetDefault("fanout.sweep_grace", time.Minute)
	v.SetDefault("fanout.sweep_limit", 64)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.workers", 8)
	v.SetDefault("queue.read_batch", 32)
	v.SetDefault("queue.stream", "newsfeed:jobs")
	v.SetDefault("queue.group", "newsfeed-workers")
	v.SetDefault("queue.visibility_timeout", 2*time.Minute)
	v.SetDefault("queue.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("queue.kafka_topic", "newsfeed.jobs")

	v.SetDefault("jwt.secret", "change-me")

	v.SetDefault("ratelimit.read_rps", 5)
	v.SetDefault("ratelimit.read_burst", 5)
	v.SetDefault("ratelimit.write_rps", 1)
	v.SetDefault("ratelimit.write_burst", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "newsfeed")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("sentry.environment", "local")
}

// Load 读取 config/config.yaml（可选）并用 FEED_* 环境变量覆盖
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("FEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验关键参数
func (c *Config) Validate() error {
	if c.Feed.WindowLength <= 0 {
		return fmt.Errorf("feed.window_length must be positive, got %d", c.Feed.WindowLength)
	}
	if c.Feed.MaxPageSize <= 0 || c.Feed.DefaultPageSize <= 0 || c.Feed.DefaultPageSize > c.Feed.MaxPageSize {
		return fmt.Errorf("invalid page sizes: default=%d max=%d", c.Feed.DefaultPageSize, c.Feed.MaxPageSize)
	}
	if c.Fanout.BatchSize <= 0 {
		return fmt.Errorf("fanout.batch_size must be positive, got %d", c.Fanout.BatchSize)
	}
	if c.Fanout.MaxAttempts <= 0 {
		return fmt.Errorf("fanout.max_attempts must be positive, got %d", c.Fanout.MaxAttempts)
	}
	switch c.Queue.Backend {
	case "memory", "redis", "kafka":
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}
