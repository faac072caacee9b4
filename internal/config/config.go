// Package config loads the bridge's configuration once at startup using
// viper, the way the pack's TUI tooling loads its own config (see
// github.com/zjrosen/perles cmd/root.go) adapted for a headless daemon:
// environment variables first, an optional YAML config file for overrides.
// It does not watch for changes; the routing table, loaded and hot-reloaded
// by internal/routing, is a separate file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Camunda holds engine connection settings.
type Camunda struct {
	BaseURL     string
	AuthEnabled bool
	Username    string
	Password    string
}

// RabbitMQ holds broker connection settings.
type RabbitMQ struct {
	URL                     string
	Heartbeat               time.Duration
	BlockedConnTimeout      time.Duration
	TasksExchange           string
	AlternateExchange       string
	ResponsesExchange       string
	SentExchange            string
	ResponsesQueue          string
	DefaultQueue            string
	ErrorQueue              string
	ErrorRoutingKeyPrefix   string
}

// Worker holds poller/worker identity and tuning.
type Worker struct {
	WorkerID                  string
	MaxTasks                  int
	LockDurationMillis        int
	AsyncResponseTimeoutMillis int
	SleepSeconds              int
	RetryAttempts             int
	RetryDelaySeconds         int
	HeartbeatIntervalSeconds  int
	Topics                    []string
}

// Cache holds Metadata Cache tuning.
type Cache struct {
	MaxEntries int
	TTLHours   int
}

// Ambient holds the optional ambient-stack integrations. Every field is
// optional; an empty value disables that integration (spec.md §6: "All
// ambient integrations are optional and no-op when unconfigured").
type Ambient struct {
	RedisURL        string
	PostgresDSN     string
	NATSURL         string
	KafkaBrokers    []string
	SlackWebhookURL string
	SlackChannel    string
	HTTPListenAddr  string
	LogLevel        string
	ResponseMode    string // "push" or "pull"
}

// Config is the fully-resolved bridge configuration.
type Config struct {
	Camunda  Camunda
	RabbitMQ RabbitMQ
	Worker   Worker
	Cache    Cache
	Ambient  Ambient
}

// Load reads configuration from environment variables (prefix CAMUNDA_BRIDGE
// is NOT required — the spec's variable names are used verbatim, e.g.
// CAMUNDA_BASE_URL, RABBITMQ_URL) and an optional YAML file for overrides.
// configFile may be empty, in which case only env vars and defaults apply.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", configFile, err)
		}
	}

	bindEnv(v)

	cfg := &Config{
		Camunda: Camunda{
			BaseURL:     v.GetString("camunda_base_url"),
			AuthEnabled: v.GetString("camunda_auth_username") != "",
			Username:    v.GetString("camunda_auth_username"),
			Password:    v.GetString("camunda_auth_password"),
		},
		RabbitMQ: RabbitMQ{
			URL:                   v.GetString("rabbitmq_url"),
			Heartbeat:             v.GetDuration("rabbitmq_heartbeat_seconds") * time.Second,
			BlockedConnTimeout:    v.GetDuration("rabbitmq_blocked_connection_timeout_seconds") * time.Second,
			TasksExchange:         v.GetString("rabbitmq_tasks_exchange"),
			AlternateExchange:     v.GetString("rabbitmq_alternate_exchange"),
			ResponsesExchange:     v.GetString("rabbitmq_responses_exchange"),
			SentExchange:          v.GetString("rabbitmq_sent_exchange"),
			ResponsesQueue:        v.GetString("rabbitmq_responses_queue"),
			DefaultQueue:          v.GetString("rabbitmq_default_queue"),
			ErrorQueue:            v.GetString("rabbitmq_error_queue"),
			ErrorRoutingKeyPrefix: v.GetString("rabbitmq_error_routing_key"),
		},
		Worker: Worker{
			WorkerID:                   v.GetString("worker_id"),
			MaxTasks:                   v.GetInt("max_tasks"),
			LockDurationMillis:         v.GetInt("lock_duration_millis"),
			AsyncResponseTimeoutMillis: v.GetInt("async_response_timeout_millis"),
			SleepSeconds:               v.GetInt("sleep_seconds"),
			RetryAttempts:              v.GetInt("retry_attempts"),
			RetryDelaySeconds:          v.GetInt("retry_delay_seconds"),
			HeartbeatIntervalSeconds:   v.GetInt("heartbeat_interval_seconds"),
			Topics:                     v.GetStringSlice("topics"),
		},
		Cache: Cache{
			MaxEntries: v.GetInt("cache_max_entries"),
			TTLHours:   v.GetInt("cache_ttl_hours"),
		},
		Ambient: Ambient{
			RedisURL:        v.GetString("redis_url"),
			PostgresDSN:     v.GetString("postgres_dsn"),
			NATSURL:         v.GetString("nats_url"),
			KafkaBrokers:    v.GetStringSlice("kafka_brokers"),
			SlackWebhookURL: v.GetString("slack_webhook_url"),
			SlackChannel:    v.GetString("slack_channel"),
			HTTPListenAddr:  v.GetString("http_listen_addr"),
			LogLevel:        v.GetString("log_level"),
			ResponseMode:    v.GetString("response_handler_mode"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Camunda.BaseURL == "" {
		return fmt.Errorf("config: CAMUNDA_BASE_URL is required")
	}
	if c.RabbitMQ.URL == "" {
		return fmt.Errorf("config: RABBITMQ_URL is required")
	}
	if c.Worker.WorkerID == "" {
		return fmt.Errorf("config: WORKER_ID is required")
	}
	if c.Ambient.ResponseMode != "push" && c.Ambient.ResponseMode != "pull" {
		return fmt.Errorf("config: RESPONSE_HANDLER_MODE must be \"push\" or \"pull\", got %q", c.Ambient.ResponseMode)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_tasks", 10)
	v.SetDefault("lock_duration_millis", 60000)
	v.SetDefault("async_response_timeout_millis", 30000)
	v.SetDefault("sleep_seconds", 5)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_delay_seconds", 30)
	v.SetDefault("heartbeat_interval_seconds", 30)
	v.SetDefault("cache_max_entries", 150)
	v.SetDefault("cache_ttl_hours", 24)
	v.SetDefault("response_handler_mode", "push")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("rabbitmq_heartbeat_seconds", 600)
	v.SetDefault("rabbitmq_blocked_connection_timeout_seconds", 300)
	v.SetDefault("rabbitmq_tasks_exchange", "tasks.exchange")
	v.SetDefault("rabbitmq_alternate_exchange", "tasks.alternate.exchange")
	v.SetDefault("rabbitmq_responses_exchange", "responses.exchange")
	v.SetDefault("rabbitmq_sent_exchange", "sent.exchange")
	v.SetDefault("rabbitmq_responses_queue", "responses.queue")
	v.SetDefault("rabbitmq_default_queue", "default.queue")
	v.SetDefault("rabbitmq_error_queue", "errors.camunda_tasks.queue")
	v.SetDefault("rabbitmq_error_routing_key", "errors.camunda_tasks")
}

func bindEnv(v *viper.Viper) {
	keys := []string{
		"camunda_base_url", "camunda_auth_username", "camunda_auth_password",
		"rabbitmq_url", "rabbitmq_heartbeat_seconds", "rabbitmq_blocked_connection_timeout_seconds",
		"rabbitmq_tasks_exchange", "rabbitmq_alternate_exchange", "rabbitmq_responses_exchange",
		"rabbitmq_sent_exchange", "rabbitmq_responses_queue", "rabbitmq_default_queue",
		"rabbitmq_error_queue", "rabbitmq_error_routing_key",
		"worker_id", "max_tasks", "lock_duration_millis", "async_response_timeout_millis",
		"sleep_seconds", "retry_attempts", "retry_delay_seconds", "heartbeat_interval_seconds", "topics",
		"cache_max_entries", "cache_ttl_hours",
		"redis_url", "postgres_dsn", "nats_url", "kafka_brokers",
		"slack_webhook_url", "slack_channel", "http_listen_addr", "log_level", "response_handler_mode",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}
