package session

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisKeyPrefix = "memedin:session:"
	redisChannel   = "memedin:session:changes"
)

// redisEvent is the pub/sub payload announcing a write
type redisEvent struct {
	Key   Key             `json:"key"`
	Value json.RawMessage `json:"value"`
}

// RedisBackend shares session values across processes through redis.
// Values are stored with SET and announced on a pub/sub channel.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing redis client
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Load returns the stored envelope for key
func (b *RedisBackend) Load(ctx context.Context, key Key) ([]byte, error) {
	data, err := b.client.Get(ctx, redisKeyPrefix+string(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get session value")
	}
	return data, nil
}

// Save stores raw and publishes it in a single MULTI block
func (b *RedisBackend) Save(ctx context.Context, key Key, raw []byte) error {
	event, err := json.Marshal(redisEvent{Key: key, Value: raw})
	if err != nil {
		return errors.Wrap(err, "failed to marshal session event")
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKeyPrefix+string(key), raw, 0)
		pipe.Publish(ctx, redisChannel, event)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to save session value")
	}
	return nil
}

// Watch subscribes to the change channel. It returns after redis confirms
// the subscription.
func (b *RedisBackend) Watch(ctx context.Context, fn WatchFunc) error {
	pubsub := b.client.Subscribe(ctx, redisChannel)

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return errors.Wrap(err, "failed to subscribe")
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event redisEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Warn().Err(err).Msg("Dropping malformed redis session event")
					continue
				}
				fn(event.Key, event.Value)
			}
		}
	}()

	return nil
}

// Close closes the redis client
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
