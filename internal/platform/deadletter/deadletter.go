package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

const (
	HeaderKind      = "x-dead-letter-kind"
	HeaderAttempts  = "x-dead-letter-attempts"
	HeaderLastError = "x-dead-letter-error"
	HeaderSource    = "x-dead-letter-source"
)

// Message is a side effect that could not be completed and needs an operator.
type Message struct {
	Kind      string
	Key       string
	Payload   json.RawMessage
	Attempts  int
	LastError string
	// Source is "outbox" for exhausted retries, "direct" when enqueueing itself failed.
	Source string
}

type Writer interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type kafkaWriter struct {
	log    *logger.Logger
	writer *kafka.Writer
}

func NewKafkaWriter(log *logger.Logger, brokers []string, topic string) (Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("missing KAFKA_BROKERS")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("missing KAFKA_DEADLETTER_TOPIC")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &kafkaWriter{log: log.With("service", "DeadLetterWriter", "topic", topic), writer: w}, nil
}

func (w *kafkaWriter) Publish(ctx context.Context, msg Message) error {
	if err := w.writer.WriteMessages(ctx, toKafkaMessage(msg)); err != nil {
		w.log.Error("dead letter publish failed", "kind", msg.Kind, "key", msg.Key, "error", err)
		return fmt.Errorf("dead letter publish: %w", err)
	}
	w.log.Warn("dead letter published", "kind", msg.Kind, "key", msg.Key, "attempts", msg.Attempts)
	return nil
}

func (w *kafkaWriter) Close() error { return w.writer.Close() }

func toKafkaMessage(msg Message) kafka.Message {
	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	source := msg.Source
	if source == "" {
		source = "outbox"
	}
	return kafka.Message{
		Key:   []byte(msg.Key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: HeaderKind, Value: []byte(msg.Kind)},
			{Key: HeaderAttempts, Value: []byte(strconv.Itoa(msg.Attempts))},
			{Key: HeaderLastError, Value: []byte(msg.LastError)},
			{Key: HeaderSource, Value: []byte(source)},
		},
	}
}

// logWriter records dead letters in the error log when no broker is configured.
type logWriter struct {
	log *logger.Logger
}

func NewLogWriter(log *logger.Logger) Writer {
	return &logWriter{log: log.With("service", "DeadLetterLog")}
}

func (w *logWriter) Publish(_ context.Context, msg Message) error {
	w.log.Error("CRITICAL: dead letter side effect",
		"kind", msg.Kind,
		"key", msg.Key,
		"attempts", msg.Attempts,
		"last_error", msg.LastError,
		"source", msg.Source,
		"payload", string(msg.Payload),
	)
	return nil
}

func (w *logWriter) Close() error { return nil }
