//go:build integration

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisPublisherRoundTrip(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(ctx, Channel("svc-1"))
	t.Cleanup(func() { _ = sub.Close() })
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewRedisPublisher(client)
	require.NoError(t, publisher.Publish(ctx, Event{Type: TypeServing, ServiceID: "svc-1", EntryID: "e1", OccurredAt: time.Now().UTC()}))

	select {
	case msg := <-sub.Channel():
		var event Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		require.Equal(t, TypeServing, event.Type)
		require.Equal(t, "e1", event.EntryID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
