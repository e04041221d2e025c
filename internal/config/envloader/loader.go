// Package envloader layers environment variables over another config source.
package envloader

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/NickLeoMartin/tap-persistiq/internal/config"
)

// EnvPrefix is prepended to every variable name, e.g. TAP_PERSISTIQ_ACCESS_TOKEN.
const EnvPrefix = "TAP_PERSISTIQ"

// setters maps dotted config keys to the field they override.
var setters = map[string]func(c *config.Config, v string) error{
	"access_token": func(c *config.Config, v string) error { c.AccessToken = v; return nil },
	"start_date":   func(c *config.Config, v string) error { c.StartDate = v; return nil },
	"user_agent":   func(c *config.Config, v string) error { c.UserAgent = v; return nil },
	"base_url":     func(c *config.Config, v string) error { c.BaseURL = v; return nil },
	"log_level":    func(c *config.Config, v string) error { c.LogLevel = v; return nil },
	"sink.type":    func(c *config.Config, v string) error { c.Sink.Type = config.SinkType(v); return nil },
	"sink.kafka.brokers": func(c *config.Config, v string) error {
		c.Sink.Kafka.Brokers = splitList(v)
		return nil
	},
	"sink.kafka.topic":   func(c *config.Config, v string) error { c.Sink.Kafka.Topic = v; return nil },
	"state_backend.type": func(c *config.Config, v string) error { c.StateBackend.Type = config.StateBackendType(v); return nil },
	"state_backend.path": func(c *config.Config, v string) error { c.StateBackend.Path = v; return nil },
	"state_backend.dsn":  func(c *config.Config, v string) error { c.StateBackend.DSN = v; return nil },
	"telemetry.exporter_endpoint": func(c *config.Config, v string) error {
		c.Telemetry.ExporterEndpoint = v
		return nil
	},
	"telemetry.sampling_ratio": func(c *config.Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Telemetry.SamplingRatio = f
		return nil
	},
	"retry.max_attempts": func(c *config.Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Retry.MaxAttempts = n
		return nil
	},
}

// EnvLoader wraps a base loader and applies environment overrides on top.
type EnvLoader struct {
	base config.Loader
	v    *viper.Viper
}

// New creates an EnvLoader reading from the process environment.
func New(base config.Loader) *EnvLoader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key := range setters {
		_ = v.BindEnv(key)
	}
	return &EnvLoader{base: base, v: v}
}

// Load implements config.Loader.
func (l *EnvLoader) Load(ctx context.Context) (*config.Config, error) {
	cfg, err := l.base.Load(ctx)
	if err != nil {
		return nil, err
	}

	for key, set := range setters {
		if !l.v.IsSet(key) {
			continue
		}
		if err := set(cfg, l.v.GetString(key)); err != nil {
			return nil, fmt.Errorf("env override %s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), err)
		}
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
