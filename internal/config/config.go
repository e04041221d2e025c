package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultBaseURL        = "https://api.persistiq.com/v1"
	DefaultRequestTimeout = 60 * time.Second
	DefaultRateLimit      = 1000
	DefaultRatePer        = 60 * time.Second
	DefaultMaxAttempts    = 7
	DefaultInitialWait    = 3 * time.Second
	DefaultMaxWait        = 5 * time.Minute
	DefaultMultiplier     = 2.0
	DefaultKafkaClientID  = "tap-persistiq"
	DefaultTapID          = "tap-persistiq"
)

// SinkType selects where emitted messages go.
type SinkType string

const (
	SinkTypeStdout SinkType = "stdout"
	SinkTypeKafka  SinkType = "kafka"
)

// StateBackendType selects where state is mirrored between runs.
type StateBackendType string

const (
	StateBackendNone     StateBackendType = "none"
	StateBackendFile     StateBackendType = "file"
	StateBackendPostgres StateBackendType = "postgres"
)

// Config represents the tap configuration. The required keys match the
// Singer config file; everything else is optional.
type Config struct {
	AccessToken string `yaml:"access_token" json:"access_token" validate:"required"`
	StartDate   string `yaml:"start_date" json:"start_date" validate:"required,timestamp"`
	UserAgent   string `yaml:"user_agent" json:"user_agent" validate:"required"`

	BaseURL        string   `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	RequestTimeout Duration `yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`
	LogLevel       string   `yaml:"log_level,omitempty" json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`

	RateLimit    RateLimitConfig    `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Retry        RetryConfig        `yaml:"retry,omitempty" json:"retry,omitempty"`
	Sink         SinkConfig         `yaml:"sink,omitempty" json:"sink,omitempty"`
	StateBackend StateBackendConfig `yaml:"state_backend,omitempty" json:"state_backend,omitempty"`
	Telemetry    TelemetryConfig    `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
}

// RateLimitConfig caps outbound requests to Requests per Per window.
type RateLimitConfig struct {
	Requests int      `yaml:"requests,omitempty" json:"requests,omitempty" validate:"gte=0"`
	Per      Duration `yaml:"per,omitempty" json:"per,omitempty"`
}

// RetryConfig defines how the client retries transient failures.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty" validate:"gte=0"`

	// InitialWait is the delay before the first retry (e.g., 3s).
	InitialWait Duration `yaml:"initial_wait,omitempty" json:"initial_wait,omitempty"`

	// MaxWait is the upper bound for a single backoff delay (e.g., 5m).
	MaxWait Duration `yaml:"max_wait,omitempty" json:"max_wait,omitempty"`

	// Multiplier grows the delay between consecutive retries.
	Multiplier float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty" validate:"omitempty,gte=1"`
}

// SinkConfig selects and configures the output sink.
type SinkConfig struct {
	Type  SinkType    `yaml:"type,omitempty" json:"type,omitempty" validate:"omitempty,oneof=stdout kafka"`
	Kafka KafkaConfig `yaml:"kafka,omitempty" json:"kafka,omitempty"`
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers,omitempty" json:"brokers,omitempty"`
	Topic    string   `yaml:"topic,omitempty" json:"topic,omitempty"`
	ClientID string   `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	// Tee also writes every message to stdout.
	Tee bool `yaml:"tee,omitempty" json:"tee,omitempty"`
}

// StateBackendConfig configures durable state mirroring.
type StateBackendConfig struct {
	Type  StateBackendType `yaml:"type,omitempty" json:"type,omitempty" validate:"omitempty,oneof=none file postgres"`
	Path  string           `yaml:"path,omitempty" json:"path,omitempty"`
	DSN   string           `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	TapID string           `yaml:"tap_id,omitempty" json:"tap_id,omitempty"`
}

// TelemetryConfig enables OTLP export when ExporterEndpoint is set.
type TelemetryConfig struct {
	ExporterEndpoint string  `yaml:"exporter_endpoint,omitempty" json:"exporter_endpoint,omitempty"`
	ServiceName      string  `yaml:"service_name,omitempty" json:"service_name,omitempty"`
	SamplingRatio    float64 `yaml:"sampling_ratio,omitempty" json:"sampling_ratio,omitempty" validate:"gte=0,lte=1"`
	Insecure         bool    `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

// ApplyDefaults fills every optional field that was left empty.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RequestTimeout.Duration == 0 {
		c.RequestTimeout.Duration = DefaultRequestTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = DefaultRateLimit
	}
	if c.RateLimit.Per.Duration == 0 {
		c.RateLimit.Per.Duration = DefaultRatePer
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.InitialWait.Duration == 0 {
		c.Retry.InitialWait.Duration = DefaultInitialWait
	}
	if c.Retry.MaxWait.Duration == 0 {
		c.Retry.MaxWait.Duration = DefaultMaxWait
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = DefaultMultiplier
	}
	if c.Sink.Type == "" {
		c.Sink.Type = SinkTypeStdout
	}
	if c.Sink.Kafka.ClientID == "" {
		c.Sink.Kafka.ClientID = DefaultKafkaClientID
	}
	if c.StateBackend.Type == "" {
		c.StateBackend.Type = StateBackendNone
	}
	if c.StateBackend.TapID == "" {
		c.StateBackend.TapID = DefaultTapID
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "tap-persistiq"
	}
	if c.Telemetry.SamplingRatio == 0 {
		c.Telemetry.SamplingRatio = 1
	}
}

// Duration reads either a Go duration string ("90s") or a number of seconds.
type Duration struct{ time.Duration }

// Seconds builds a Duration from whole seconds.
func Seconds(n int) Duration { return Duration{time.Duration(n) * time.Second} }

func parseDuration(s string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, line %d", node.Line)
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		d.Duration = time.Duration(v * float64(time.Second))
		return nil
	case string:
		parsed, err := parseDuration(v)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("duration must be a string or number, got %s", string(data))
	}
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }
