package redis

import (
	"context"
)

// Publish sends payload on channel.
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe calls fn for every message on channel until ctx is done.
func (c *Client) Subscribe(ctx context.Context, channel string, fn func(payload string)) error {
	sub := c.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	// wait for the subscription to be confirmed before reporting ready
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}
