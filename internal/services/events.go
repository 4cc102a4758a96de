package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/appshelf-backend/internal/catalog"
	"github.com/AnshRaj112/appshelf-backend/internal/logger"
)

// CatalogChannelPrefix is followed by the owner uid.
const CatalogChannelPrefix = "catalog:owner:"

// EventBus relays catalog events between instances over Redis pub/sub.
type EventBus struct {
	client *redis.Client
	log    logger.Logger
}

func NewEventBus(client *redis.Client, log logger.Logger) *EventBus {
	return &EventBus{client: client, log: log}
}

// Publish sends ev on its owner's channel.
func (b *EventBus) Publish(ctx context.Context, ev catalog.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, CatalogChannelPrefix+ev.OwnerID, data).Err()
}

// Run delivers every event published by any instance to handle until ctx
// is done, resubscribing with backoff after errors.
func (b *EventBus) Run(ctx context.Context, handle func(catalog.Event)) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		failed := b.listen(ctx, handle, &backoff)
		if !failed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

// listen reports true when the subscription broke and should be retried
// after a pause.
func (b *EventBus) listen(ctx context.Context, handle func(catalog.Event), backoff *time.Duration) bool {
	pubsub := b.client.PSubscribe(ctx, CatalogChannelPrefix+"*")
	defer pubsub.Close()

	b.log.Info("catalog event subscriber started", logger.String("pattern", CatalogChannelPrefix+"*"))

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			b.log.Warn("catalog event subscriber error", logger.Error(err), logger.Duration("retryIn", *backoff))
			return true
		}
		*backoff = time.Second

		var ev catalog.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.log.Warn("failed to unmarshal catalog event", logger.Error(err))
			continue
		}
		handle(ev)
	}
}
