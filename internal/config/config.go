// Package config loads service settings from an optional YAML file and
// ORDERMS_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Postgres Postgres `yaml:"postgres"`
	Kafka    Kafka    `yaml:"kafka"`
	Redis    Redis    `yaml:"redis"`
	Log      Log      `yaml:"log"`
	API      API      `yaml:"api"`
	Consumer Consumer `yaml:"consumer"`
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPC struct {
	Addr string `yaml:"addr"`
}

// Postgres is optional; an empty DSN selects the in-memory store.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Kafka is optional; no brokers disables the consumer.
type Kafka struct {
	Brokers         []string `yaml:"brokers"`
	Topic           string   `yaml:"topic"`
	GroupID         string   `yaml:"group_id"`
	DeadLetterTopic string   `yaml:"dead_letter_topic"`
}

// Redis is optional; an empty address disables redelivery dedup.
type Redis struct {
	Addr     string        `yaml:"addr"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type API struct {
	DefaultPageSize int           `yaml:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type Consumer struct {
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		HTTP:  HTTP{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		GRPC:  GRPC{Addr: ":9090"},
		Kafka: Kafka{Topic: "order-created", GroupID: "orderms"},
		Redis: Redis{DedupTTL: 24 * time.Hour},
		Log:   Log{Level: "info", Format: "json"},
		API: API{
			DefaultPageSize: 10,
			MaxPageSize:     100,
			RequestTimeout:  5 * time.Second,
		},
		Consumer: Consumer{BaseBackoff: 200 * time.Millisecond, MaxBackoff: 30 * time.Second},
	}
}

// Load applies path (when non-empty) and then the environment on top of
// the defaults, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
		return nil
	}

	str("ORDERMS_HTTP_ADDR", &cfg.HTTP.Addr)
	str("ORDERMS_GRPC_ADDR", &cfg.GRPC.Addr)
	str("ORDERMS_POSTGRES_DSN", &cfg.Postgres.DSN)
	str("ORDERMS_KAFKA_TOPIC", &cfg.Kafka.Topic)
	str("ORDERMS_KAFKA_GROUP_ID", &cfg.Kafka.GroupID)
	str("ORDERMS_KAFKA_DEAD_LETTER_TOPIC", &cfg.Kafka.DeadLetterTopic)
	str("ORDERMS_REDIS_ADDR", &cfg.Redis.Addr)
	str("ORDERMS_LOG_LEVEL", &cfg.Log.Level)
	str("ORDERMS_LOG_FORMAT", &cfg.Log.Format)
	if v, ok := lookup("ORDERMS_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}

	return errors.Join(
		duration("ORDERMS_HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout),
		duration("ORDERMS_REDIS_DEDUP_TTL", &cfg.Redis.DedupTTL),
		integer("ORDERMS_API_DEFAULT_PAGE_SIZE", &cfg.API.DefaultPageSize),
		integer("ORDERMS_API_MAX_PAGE_SIZE", &cfg.API.MaxPageSize),
		duration("ORDERMS_API_REQUEST_TIMEOUT", &cfg.API.RequestTimeout),
		duration("ORDERMS_CONSUMER_BASE_BACKOFF", &cfg.Consumer.BaseBackoff),
		duration("ORDERMS_CONSUMER_MAX_BACKOFF", &cfg.Consumer.MaxBackoff),
	)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.API.DefaultPageSize <= 0 {
		errs = append(errs, errors.New("api.default_page_size must be positive"))
	}
	if c.API.MaxPageSize > 0 && c.API.MaxPageSize < c.API.DefaultPageSize {
		errs = append(errs, errors.New("api.max_page_size must not be below api.default_page_size"))
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.Topic == "" || c.Kafka.GroupID == "") {
		errs = append(errs, errors.New("kafka.topic and kafka.group_id are required with kafka.brokers"))
	}
	if c.Consumer.BaseBackoff <= 0 || c.Consumer.MaxBackoff < c.Consumer.BaseBackoff {
		errs = append(errs, errors.New("consumer backoff must be positive with max_backoff >= base_backoff"))
	}
	if c.Redis.Addr != "" && c.Redis.DedupTTL <= 0 {
		errs = append(errs, errors.New("redis.dedup_ttl must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or text", c.Log.Format))
	}
	return errors.Join(errs...)
}
