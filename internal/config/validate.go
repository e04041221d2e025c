package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/NickLeoMartin/tap-persistiq/pkg/common/timeutil"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("timestamp", func(fl validator.FieldLevel) bool {
		_, err := timeutil.ParseTimestamp(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the configuration after defaults have been applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Sink.Type {
	case SinkTypeKafka:
		if len(c.Sink.Kafka.Brokers) == 0 || c.Sink.Kafka.Topic == "" {
			return errors.New("invalid config: kafka sink requires sink.kafka.brokers and sink.kafka.topic")
		}
	}

	switch c.StateBackend.Type {
	case StateBackendFile:
		if c.StateBackend.Path == "" {
			return errors.New("invalid config: file state backend requires state_backend.path")
		}
	case StateBackendPostgres:
		if c.StateBackend.DSN == "" {
			return errors.New("invalid config: postgres state backend requires state_backend.dsn")
		}
	}
	return nil
}
