package broker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"

	"eventsWs/internal/modules/realtime/application/port"
	"eventsWs/internal/platform/metrics"
	"eventsWs/internal/shared/logging"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaForwarder republishes records from one Kafka topic into the events exchange.
type KafkaForwarder struct {
	reader    messageReader
	publisher port.EventPublisher
	topic     string
	backoff   time.Duration
}

func NewKafkaForwarder(brokers []string, groupID, topic string, publisher port.EventPublisher) *KafkaForwarder {
	return &KafkaForwarder{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}),
		publisher: publisher,
		topic:     topic,
		backoff:   time.Second,
	}
}

// Run forwards records until ctx is cancelled.
func (f *KafkaForwarder) Run(ctx context.Context) error {
	defer f.reader.Close()
	for {
		m, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			slog.Warn("kafka read error", slog.String("topic", f.topic), logging.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(f.backoff):
			}
			continue
		}
		f.forward(ctx, m)
	}
}

func (f *KafkaForwarder) forward(ctx context.Context, m kafka.Message) {
	if !gjson.ValidBytes(m.Value) {
		metrics.Forwarded.WithLabelValues(m.Topic, "invalid").Inc()
		slog.Warn("kafka record is not json", slog.String("topic", m.Topic), slog.Int("partition", m.Partition), slog.Int64("offset", m.Offset))
		return
	}
	key := RoutingKeyFor(m)
	if err := f.publisher.Publish(ctx, key, m.Value); err != nil {
		metrics.Forwarded.WithLabelValues(m.Topic, "error").Inc()
		slog.Warn("kafka record publish failed", slog.String("topic", m.Topic), slog.String("routingKey", key), logging.Err(err))
		return
	}
	metrics.Forwarded.WithLabelValues(m.Topic, "ok").Inc()
	slog.Debug("kafka record forwarded",
		slog.String("topic", m.Topic),
		slog.Int("partition", m.Partition),
		slog.Int64("offset", m.Offset),
		slog.String("routingKey", key),
	)
}

// RoutingKeyFor uses the record key when present and falls back to the topic name.
func RoutingKeyFor(m kafka.Message) string {
	if key := strings.TrimSpace(string(m.Key)); key != "" {
		return key
	}
	return m.Topic
}
