package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/notification"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

// Writer is the subset of *kafkago.Writer the relay uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

func NewWriter(cfg Config) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		BatchSize:              100,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		Transport:              &kafkago.Transport{ClientID: cfg.ClientID},
	}
}

// Relay publishes notifications onto a Kafka topic keyed by order id so that
// messages of one order stay ordered within a partition.
type Relay struct {
	writer     Writer
	topic      string
	tracer     observability.Tracer
	propagator propagation.TextMapPropagator
	log        observability.Logger
}

func NewRelay(w Writer, topic string, tel observability.Observability) *Relay {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Relay{
		writer:     w,
		topic:      topic,
		tracer:     tel.Tracer(),
		propagator: otel.GetTextMapPropagator(),
		log:        tel.Logger().With(observability.F("component", "kafka_relay"), observability.F("topic", topic)),
	}
}

func (r *Relay) Notify(ctx context.Context, msg notification.Message) error {
	ctx, span := r.tracer.Start(ctx, "Kafka.Produce",
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination.name", r.topic),
		attribute.String("messaging.kafka.message.key", msg.OrderID),
	)
	defer span.End()

	payload, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("kafka: encode %s: %w", msg.Event, err)
	}

	carrier := propagation.MapCarrier{}
	r.propagator.Inject(ctx, carrier)
	headers := []kafkago.Header{{Key: "event", Value: []byte(msg.Event)}}
	for k, v := range carrier {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	err = r.writer.WriteMessages(ctx, kafkago.Message{
		Key:     []byte(msg.OrderID),
		Value:   payload,
		Headers: headers,
		Time:    msg.OccurredAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("kafka: write %s: %w", msg.Event, err)
	}
	return nil
}

func (r *Relay) Close() error {
	return r.writer.Close()
}
