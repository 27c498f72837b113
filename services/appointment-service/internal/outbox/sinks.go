package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/ItsMoloy/Android-250/libs/kafkax"
	otelx "github.com/ItsMoloy/Android-250/libs/otel"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// KafkaSink writes records to the topic named by their event type, keyed by
// aggregate id so changes to one appointment stay ordered.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

func (s *KafkaSink) Deliver(ctx context.Context, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
		meta := kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType, AggregateID: r.AggregateID}
		msgs = append(msgs, kafka.Message{
			Topic:   r.EventType,
			Key:     []byte(r.AggregateID),
			Value:   r.Payload,
			Headers: kafkax.InjectTraceHeaders(msgCtx, meta.Headers()),
		})
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// ChangePublisher is implemented by feed.Hub.
type ChangePublisher interface {
	Publish(model.Change)
}

// HubSink hands records straight to the local change feed. It serves single
// instance deployments that run without a broker.
type HubSink struct {
	hub    ChangePublisher
	logger *slog.Logger
}

func NewHubSink(hub ChangePublisher, logger *slog.Logger) *HubSink {
	return &HubSink{hub: hub, logger: logger}
}

func (s *HubSink) Deliver(_ context.Context, records []Record) error {
	for _, r := range records {
		c, err := DecodeChange(r.Payload)
		if err != nil {
			s.logger.Error("outbox record undecodable, skipping", "outbox_id", r.ID, "err", err)
			continue
		}
		s.hub.Publish(c)
	}
	return nil
}
