package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Sink delivers lifecycle events somewhere outside the pipeline.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev entity.Event) error
	Close() error
}

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: level}
}

func (*LogSink) Name() string { return "log" }

func (s *LogSink) Publish(ctx context.Context, ev entity.Event) error {
	attrs := []any{"event", string(ev.Type), "job_id", ev.JobID, "at", ev.Timestamp}
	for k, v := range ev.Payload {
		attrs = append(attrs, k, v)
	}
	s.logger.Log(ctx, s.level, "job event", attrs...)
	return nil
}

func (*LogSink) Close() error { return nil }

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaSink publishes protojson-encoded events keyed by job id, so all events
// of one job land on the same partition in order.
type KafkaSink struct {
	writer  *kafka.Writer
	timeout time.Duration
	logger  *slog.Logger
}

func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink: topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaSink{writer: w, timeout: cfg.WriteTimeout, logger: logger}, nil
}

func (*KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, ev entity.Event) error {
	msg, err := Message(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", ev.Type, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Message builds the Kafka record for an event.
func Message(ev entity.Event) (kafka.Message, error) {
	value, err := Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.JobID.String()),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}
