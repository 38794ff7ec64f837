package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

// DefaultChannel is where lifecycle events are published.
const DefaultChannel = "lpbot:lifecycle"

// eventMessage is the JSON payload published per lifecycle event.
type eventMessage struct {
	Type       domain.LifecycleEventType `json:"type"`
	At         int64                     `json:"at"`
	PositionID string                    `json:"position_id"`
	Token      string                    `json:"token"`
	Pool       string                    `json:"pool"`
	Status     domain.PositionStatus     `json:"status"`
	Detail     string                    `json:"detail,omitempty"`
	Position   domain.Position           `json:"position"`
}

// Publisher implements ports.Notifier over Redis Pub/Sub.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

// NewPublisher creates a Publisher on channel (DefaultChannel when empty).
func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

// Notify publishes the event as JSON.
func (p *Publisher) Notify(ctx context.Context, ev domain.LifecycleEvent) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", p.channel, err)
	}
	return nil
}

func encodeEvent(ev domain.LifecycleEvent) ([]byte, error) {
	return json.Marshal(eventMessage{
		Type:       ev.Type,
		At:         ev.At.UnixMilli(),
		PositionID: ev.Position.ID,
		Token:      ev.Position.TokenAddress,
		Pool:       ev.Position.PoolAddress,
		Status:     ev.Position.Status,
		Detail:     ev.Detail,
		Position:   ev.Position,
	})
}

var _ ports.Notifier = (*Publisher)(nil)
