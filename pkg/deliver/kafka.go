package deliver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/certhook/certhook/pkg/model"
	"github.com/certhook/certhook/pkg/target"
)

// KafkaSink publishes the event envelope to the target's topic, keyed by
// delivery_id so replays land on the same partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, clientID string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
			Transport: &kafka.Transport{
				ClientID: clientID,
			},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (s *KafkaSink) Deliver(ctx context.Context, event *model.WebhookEvent, t *target.Target) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.DeliveryID, err)
	}

	message := kafka.Message{
		Topic: t.Callback.Topic,
		Key:   []byte(event.DeliveryID),
		Value: payload,
		Time:  time.Now(),
	}
	if err := s.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("deliver %s to topic %s: %w", event.DeliveryID, t.Callback.Topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
