package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. OMNI_CACHE_PATH.
const EnvPrefix = "OMNI"

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Training    TrainingConfig   `yaml:"training"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Redis       RedisConfig      `yaml:"redis"`
	Cache       CacheConfig      `yaml:"cache"`
	RateLimit   RateLimitConfig  `yaml:"ratelimit"`
	Queue       QueueConfig      `yaml:"queue"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
	Digest struct {
		Enabled       bool          `yaml:"enabled"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
		MaxEntries    int           `yaml:"max_entries" default:"100" validate:"gte=1"`
	} `yaml:"digest"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	WSPingInterval  time.Duration `yaml:"ws_ping_interval" default:"30s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// PipelineConfig controls where the forecast pipeline reads from and writes to.
type PipelineConfig struct {
	CacheSource string        `yaml:"cache_source" default:"file" validate:"oneof=file http clickhouse"`
	CachePath   string        `yaml:"cache_path" default:"data/cache.json"`
	CacheURL    string        `yaml:"cache_url" validate:"omitempty,url"`
	ModelDir    string        `yaml:"model_dir" default:"models" validate:"required"`
	OutputPath  string        `yaml:"output_path" default:"data/omnispectrum.json"`
	Symbol      string        `yaml:"symbol" default:"NIFTY" validate:"required"`
	HistoryBars int           `yaml:"history_bars" default:"500" validate:"gte=100"`
	Timeout     time.Duration `yaml:"timeout" default:"60s"`
}

type TrainingConfig struct {
	Seed         uint64  `yaml:"seed" default:"42"`
	ModelVersion string  `yaml:"model_version"`
	Epochs       int     `yaml:"epochs" default:"40" validate:"gte=1"`
	BatchSize    int     `yaml:"batch_size" default:"32" validate:"gte=1"`
	LearningRate float64 `yaml:"learning_rate" default:"0.05" validate:"gt=0"`
	Autoencoder  struct {
		Epochs       int     `yaml:"epochs" default:"20" validate:"gte=1"`
		LearningRate float64 `yaml:"learning_rate" default:"0.01" validate:"gt=0"`
	} `yaml:"autoencoder"`
	Expansion struct {
		Rounds       int     `yaml:"rounds" default:"100" validate:"gte=1"`
		MaxDepth     int     `yaml:"max_depth" default:"3" validate:"gte=1,lte=8"`
		LearningRate float64 `yaml:"learning_rate" default:"0.1" validate:"gt=0"`
		MinLeaf      int     `yaml:"min_leaf" default:"5" validate:"gte=1"`
		Bins         int     `yaml:"bins" default:"32" validate:"gte=2,lte=256"`
		Lambda       float64 `yaml:"lambda" default:"1"`
	} `yaml:"expansion"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers" validate:"required_if=Enabled true"`
	ForecastTopic string   `yaml:"forecast_topic" default:"omnispectrum.forecasts"`
	CacheTopic    string   `yaml:"cache_topic" default:"omnispectrum.cache-updated"`
	LogTopic      string   `yaml:"log_topic" default:"omnispectrum.logs"`
	Producer      struct {
		RequiredAcks int           `yaml:"required_acks" default:"1"`
		Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID            string        `yaml:"group_id" default:"omnispectrum"`
		Workers            int           `yaml:"workers" default:"1" validate:"gte=1"`
		RetryMax           int           `yaml:"retry_max" default:"3"`
		BackoffMin         time.Duration `yaml:"backoff_min" default:"200ms"`
		BackoffMax         time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic           string        `yaml:"dlq_topic" default:"omnispectrum.cache-updated.dlq"`
		MinRefreshInterval time.Duration `yaml:"min_refresh_interval" default:"10s"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host" default:"localhost"`
	Port           int           `yaml:"port" default:"9000"`
	Database       string        `yaml:"database" default:"omnispectrum"`
	User           string        `yaml:"user" default:"default"`
	Password       string        `yaml:"password"`
	DialTimeout    time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout    time.Duration `yaml:"read_timeout" default:"30s"`
	CandlesTable   string        `yaml:"candles_table" default:"candles"`
	ForecastsTable string        `yaml:"forecasts_table" default:"forecasts"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"omni:"`
}

type CacheConfig struct {
	ForecastTTL time.Duration `yaml:"forecast_ttl" default:"5m"`
	LockTTL     time.Duration `yaml:"lock_ttl" default:"2m"`
}

type RateLimitConfig struct {
	PerMinute float64 `yaml:"per_minute" default:"6" validate:"gt=0"`
	Burst     int     `yaml:"burst" default:"2" validate:"gte=1"`
}

type QueueConfig struct {
	Name       string        `yaml:"name" default:"omnispectrum:train"`
	MaxRetries int           `yaml:"max_retries" default:"2"`
	PollWait   time.Duration `yaml:"poll_wait" default:"5s"`
}

// envOverrides lists the settings that deployments commonly override through
// the environment. Unset variables leave the YAML value untouched.
type envOverrides struct {
	Environment    string   `envconfig:"ENVIRONMENT"`
	LogLevel       string   `envconfig:"LOG_LEVEL"`
	ServerPort     int      `envconfig:"SERVER_PORT"`
	CacheSource    string   `envconfig:"CACHE_SOURCE"`
	CachePath      string   `envconfig:"CACHE_PATH"`
	CacheURL       string   `envconfig:"CACHE_URL"`
	ModelDir       string   `envconfig:"MODEL_DIR"`
	OutputPath     string   `envconfig:"OUTPUT_PATH"`
	KafkaEnabled   *bool    `envconfig:"KAFKA_ENABLED"`
	KafkaBrokers   []string `envconfig:"KAFKA_BROKERS"`
	ClickHouseHost string   `envconfig:"CLICKHOUSE_HOST"`
	ClickHousePass string   `envconfig:"CLICKHOUSE_PASSWORD"`
	RedisEnabled   *bool    `envconfig:"REDIS_ENABLED"`
	RedisAddr      string   `envconfig:"REDIS_ADDR"`
	RedisPassword  string   `envconfig:"REDIS_PASSWORD"`
}

// Load builds the configuration from struct defaults, the optional YAML file at
// path, a .env file when present, and OMNI_* environment variables, in that
// order of increasing precedence.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&c.Environment, env.Environment)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Pipeline.CacheSource, env.CacheSource)
	setString(&c.Pipeline.CachePath, env.CachePath)
	setString(&c.Pipeline.CacheURL, env.CacheURL)
	setString(&c.Pipeline.ModelDir, env.ModelDir)
	setString(&c.Pipeline.OutputPath, env.OutputPath)
	setString(&c.ClickHouse.Host, env.ClickHouseHost)
	setString(&c.ClickHouse.Password, env.ClickHousePass)
	setString(&c.Redis.Addr, env.RedisAddr)
	setString(&c.Redis.Password, env.RedisPassword)

	if env.ServerPort != 0 {
		c.Server.Port = env.ServerPort
	}
	if env.KafkaEnabled != nil {
		c.Kafka.Enabled = *env.KafkaEnabled
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
	}
	if env.RedisEnabled != nil {
		c.Redis.Enabled = *env.RedisEnabled
	}
	return nil
}

// Validate runs the struct tag rules plus the cross-section constraints the
// tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	switch c.Pipeline.CacheSource {
	case "file":
		if c.Pipeline.CachePath == "" {
			return fmt.Errorf("pipeline.cache_path is required for the file source")
		}
	case "http":
		if c.Pipeline.CacheURL == "" {
			return fmt.Errorf("pipeline.cache_url is required for the http source")
		}
	case "clickhouse":
		if !c.ClickHouse.Enabled {
			return fmt.Errorf("pipeline.cache_source=clickhouse requires clickhouse.enabled")
		}
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
