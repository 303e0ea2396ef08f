package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix prefixes the per-document pub/sub channel.
const ChannelPrefix = "codlab:changes:"

// Redis publishes every entry on the channel of its document, so external
// observers can follow a session.
type Redis struct {
	rdb *redis.Client
}

// OpenRedis connects to the server at addr.
func OpenRedis(ctx context.Context, addr string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return &Redis{rdb: rdb}, nil
}

// Channel returns the pub/sub channel entries for uri are published on.
func Channel(uri string) string {
	return ChannelPrefix + uri
}

func (r *Redis) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, Channel(e.DocumentURI), data).Err(); err != nil {
		return fmt.Errorf("publishing change %s: %w", e.ChangeID, err)
	}
	return nil
}

// Subscribe returns a subscription to the channel of uri.
func (r *Redis) Subscribe(ctx context.Context, uri string) *redis.PubSub {
	return r.rdb.Subscribe(ctx, Channel(uri))
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
