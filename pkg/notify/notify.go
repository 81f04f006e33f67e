// Package notify publishes event lifecycle transitions to a redis pub/sub
// channel so dashboards can follow dispatch activity live. Publishing is
// best effort; the engine works with a nil bus.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const ChannelLifecycle = "certhook:events:lifecycle"

type Notification struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
	Target     string `json:"target,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

type Bus struct {
	client redis.UniversalClient
}

func NewBus(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

func (b *Bus) Publish(ctx context.Context, deliveryID, status, targetName string) error {
	if b == nil || b.client == nil {
		return nil
	}
	payload, err := json.Marshal(Notification{
		DeliveryID: deliveryID,
		Status:     status,
		Target:     targetName,
		Timestamp:  time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, ChannelLifecycle, payload).Err()
}

func (b *Bus) Subscribe(ctx context.Context) <-chan *Notification {
	sub := b.client.Subscribe(ctx, ChannelLifecycle)
	ch := make(chan *Notification, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var notification Notification
			if err := json.Unmarshal([]byte(msg.Payload), &notification); err != nil {
				continue
			}
			ch <- &notification
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}
