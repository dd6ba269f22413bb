// Package events announces committed queue changes to display boards.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	TypeAdmitted    = "entry.admitted"
	TypeServing     = "entry.serving"
	TypeCompleted   = "entry.completed"
	TypeCancelled   = "entry.cancelled"
	TypeDeleted     = "entry.deleted"
	TypeWalkinReset = "walkin.reset"
)

// AllServicesChannel carries events that are not tied to one service.
const AllServicesChannel = "queue:all"

type Event struct {
	Type        string    `json:"type"`
	ServiceID   string    `json:"service_id,omitempty"`
	EntryID     string    `json:"entry_id,omitempty"`
	QueueNumber string    `json:"queue_number,omitempty"`
	Status      string    `json:"status,omitempty"`
	Count       int       `json:"count,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Channel is the pub/sub channel for a service's queue.
func Channel(serviceID string) string {
	if serviceID == "" {
		return AllServicesChannel
	}
	return "queue:" + serviceID
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type RedisPublisher struct {
	client redisClient
}

func NewRedisPublisher(client redisClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode queue event")
	}
	if err := p.client.Publish(ctx, Channel(event.ServiceID), payload).Err(); err != nil {
		return errors.Wrapf(err, "publish %s", event.Type)
	}
	return nil
}

// NewRedisClient connects to url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis URL")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping failed")
	}
	return client, nil
}
