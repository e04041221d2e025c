package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/logger"
)

// StateKey is the message key used for checkpoint messages so they land on a
// single partition in emission order.
const StateKey = "__state__"

const messageTypeHeader = "singer-message-type"

// KafkaConfig contains the settings needed to build the producer.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// NewProducerConfig returns the sarama configuration used by the sink.
func NewProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0
	return config
}

// ConnectKafka creates a synchronous producer, retrying while the cluster
// comes up for up to five minutes.
func ConnectKafka(cfg KafkaConfig, log *logger.Logger, tracer trace.Tracer) (*KafkaSink, error) {
	var producer sarama.SyncProducer
	sarama.Logger = logger.NewStdLogger(log.With("component", "sarama"), logger.LevelDebug)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg.ClientID))
		if err != nil {
			log.Warn(context.Background(), "kafka producer not ready", "brokers", cfg.Brokers, "error", err)
			return fmt.Errorf("creating producer: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return NewKafkaSink(producer, cfg.Topic, log, tracer), nil
}

// KafkaSink publishes every Singer message to one topic. Schema and record
// messages are keyed by stream so per-stream order is preserved.
type KafkaSink struct {
	mu       sync.Mutex
	producer sarama.SyncProducer
	topic    string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewKafkaSink wraps an existing producer.
func NewKafkaSink(producer sarama.SyncProducer, topic string, log *logger.Logger, tracer trace.Tracer) *KafkaSink {
	return &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   log.With("component", "kafka.sink", "topic", topic),
		tracer:   tracer,
	}
}

func (k *KafkaSink) EmitSchema(ctx context.Context, stream string, schema *catalog.Schema, keyProperties, bookmarkProperties []string) error {
	b, err := encodeSchema(stream, schema, keyProperties, bookmarkProperties)
	if err != nil {
		return fmt.Errorf("encode schema message: %w", err)
	}
	return k.publish(ctx, MessageSchema, stream, b)
}

func (k *KafkaSink) EmitRecord(ctx context.Context, stream string, record map[string]any, extractedAt time.Time) error {
	b, err := encodeRecord(stream, record, extractedAt)
	if err != nil {
		return fmt.Errorf("encode record message: %w", err)
	}
	return k.publish(ctx, MessageRecord, stream, b)
}

func (k *KafkaSink) EmitState(ctx context.Context, state *checkpoint.State) error {
	b, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("encode state message: %w", err)
	}
	return k.publish(ctx, MessageState, StateKey, b)
}

func (k *KafkaSink) publish(ctx context.Context, typ MessageType, key string, value []byte) error {
	ctx, span := k.tracer.Start(ctx, "kafka.produce",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", k.topic),
			attribute.String("messaging.operation", "publish"),
			attribute.String("singer.message_type", string(typ)),
			attribute.String("message.key", key),
		))
	defer span.End()

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(messageTypeHeader), Value: []byte(typ)},
		},
	}
	carrier := &headerCarrier{headers: msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	msg.Headers = carrier.headers

	k.mu.Lock()
	partition, offset, err := k.producer.SendMessage(msg)
	k.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", k.topic, err)
	}

	k.logger.Debug(ctx, "published message", "type", typ, "key", key, "partition", partition, "offset", offset)
	return nil
}

// Close flushes and closes the producer.
func (k *KafkaSink) Close() error { return k.producer.Close() }

// headerCarrier implements propagation.TextMapCarrier over Kafka record headers.
type headerCarrier struct {
	headers []sarama.RecordHeader
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	c.headers = append(c.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	out := make([]string, len(c.headers))
	for i, h := range c.headers {
		out[i] = string(h.Key)
	}
	return out
}
