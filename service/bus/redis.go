package bus

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig initializes the Redis bus.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type RedisBus struct {
	client *redis.Client
}

// NewRedis connects and pings; an unreachable server is an error.
func NewRedis(c RedisConfig) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", c.Addr)
	}
	return &RedisBus{client: rdb}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(c *redis.Client) *RedisBus {
	return &RedisBus{client: c}
}

func (b *RedisBus) NewSubscriber(ctx context.Context) (Subscriber, error) {
	ps := b.client.PSubscribe(ctx)
	s := &redisSubscriber{
		ps:   ps,
		set:  newPatternSet(),
		out:  make(chan *Message, 256),
		done: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.Wrapf(b.client.Publish(ctx, channel, payload).Err(), "redis publish %s", channel)
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscriber struct {
	ps   *redis.PubSub
	set  *patternSet
	out  chan *Message
	done chan struct{}
	once sync.Once
}

func (s *redisSubscriber) pump() {
	defer close(s.out)
	for m := range s.ps.Channel() {
		msg := &Message{Pattern: m.Pattern, Channel: m.Channel, Payload: []byte(m.Payload)}
		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscriber) Subscribe(ctx context.Context, patterns ...string) error {
	s.set.mu.Lock()
	defer s.set.mu.Unlock()
	todo := s.set.missing(patterns)
	if len(todo) == 0 {
		return nil
	}
	if err := s.ps.PSubscribe(ctx, todo...); err != nil {
		return errors.Wrapf(err, "redis psubscribe %v", todo)
	}
	s.set.add(todo)
	return nil
}

func (s *redisSubscriber) Unsubscribe(ctx context.Context, patterns ...string) error {
	s.set.mu.Lock()
	defer s.set.mu.Unlock()
	return s.unsubscribeLocked(ctx, s.set.held(patterns))
}

func (s *redisSubscriber) UnsubscribeMatching(ctx context.Context, wildcard string) error {
	s.set.mu.Lock()
	defer s.set.mu.Unlock()
	return s.unsubscribeLocked(ctx, s.set.matching(wildcard))
}

func (s *redisSubscriber) unsubscribeLocked(ctx context.Context, todo []string) error {
	// PUNSUBSCRIBE without arguments drops everything
	if len(todo) == 0 {
		return nil
	}
	if err := s.ps.PUnsubscribe(ctx, todo...); err != nil {
		return errors.Wrapf(err, "redis punsubscribe %v", todo)
	}
	s.set.remove(todo)
	return nil
}

func (s *redisSubscriber) Patterns() []string { return s.set.list() }

func (s *redisSubscriber) Messages() <-chan *Message { return s.out }

func (s *redisSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
