// README: Redis pub/sub subscriber for per-user pool ride event channels.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Subscription delivers raw payloads until closed.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

type RedisSubscriber struct {
	redis *redis.Client
}

func NewRedisSubscriber(client *redis.Client) *RedisSubscriber {
	return &RedisSubscriber{redis: client}
}

// Subscribe waits for the subscription to be confirmed so no message
// published after it returns is missed.
func (s *RedisSubscriber) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := s.redis.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	rs := &redisSubscription{ps: ps, out: make(chan []byte, 16), done: make(chan struct{})}
	go rs.forward()
	return rs, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (r *redisSubscription) forward() {
	defer close(r.out)
	for msg := range r.ps.Channel() {
		select {
		case r.out <- []byte(msg.Payload):
		case <-r.done:
			return
		}
	}
}

func (r *redisSubscription) Messages() <-chan []byte { return r.out }

func (r *redisSubscription) Close() error {
	r.once.Do(func() { close(r.done) })
	return r.ps.Close()
}
