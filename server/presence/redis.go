package presence

import (
	"context"
	"fmt"

	"github.com/Mmx233/ChatRelay/protocol"
	"github.com/go-redis/redis/v8"
)

// Publisher is the part of a Redis client used to publish events.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes presence frames to a channel for consumers outside this
// process. It only publishes; nothing in the server reads the channel back.
type Redis struct {
	client  Publisher
	channel string
}

var _ Subscriber = (*Redis)(nil)

func NewRedis(client Publisher, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Deliver(ctx context.Context, ev Event) error {
	frame, err := protocol.Encode(ev.Frame())
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, frame).Err(); err != nil {
		return fmt.Errorf("publish presence to %s: %w", r.channel, err)
	}
	return nil
}
