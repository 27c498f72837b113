package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/ItsMoloy/Android-250/libs/kafkax"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/outbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// KafkaBridge replays change events published by any instance into the
// local hub, so dashboards see writes made elsewhere. Every instance reads
// with its own consumer group.
type KafkaBridge struct {
	reader *kafka.Reader
	hub    *Hub
	logger *slog.Logger
}

type BridgeConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

func NewKafkaBridge(hub *Hub, logger *slog.Logger, cfg BridgeConfig) *KafkaBridge {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &KafkaBridge{reader: reader, hub: hub, logger: logger}
}

func (b *KafkaBridge) Run(ctx context.Context) {
	defer b.reader.Close()

	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("kafka read error", "err", err)
			time.Sleep(time.Second)
			continue
		}
		b.handle(ctx, msg)
	}
}

func (b *KafkaBridge) handle(ctx context.Context, msg kafka.Message) {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	_, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	c, err := outbox.DecodeChange(msg.Value)
	if err != nil {
		meta := kafkax.ExtractEventMeta(msg)
		b.logger.Warn("undecodable change event skipped", "event_id", meta.EventID, "topic", msg.Topic, "err", err)
		span.RecordError(err)
		return
	}
	b.hub.Publish(c)
}
