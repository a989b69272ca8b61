package bus

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*RedisBus, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2, DisableIdentity: true})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisFromClient(rdb), rdb
}

// publishUntilHeard retries until the server reports a receiver, because
// PSUBSCRIBE is acknowledged asynchronously.
func publishUntilHeard(t *testing.T, rdb *redis.Client, channel, payload string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := rdb.Publish(context.Background(), channel, payload).Result()
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if n > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("nobody subscribed to %s", channel)
}

func TestRedisSubscriberReceives(t *testing.T) {
	ctx := context.Background()
	b, rdb := newTestRedis(t)

	s, err := b.NewSubscriber(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ns := Namespace("app")
	if err := s.Subscribe(ctx, ns.PersonalPattern("5"), ns.ChannelPattern("9")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	publishUntilHeard(t, rdb, "app.private-channel.9", `{"event":"x"}`)
	m := recv(t, s)
	if m.Pattern != "app.private-channel.9" || m.Channel != "app.private-channel.9" {
		t.Fatalf("message = %+v", m)
	}
}

func TestRedisUnsubscribeMatching(t *testing.T) {
	ctx := context.Background()
	b, rdb := newTestRedis(t)

	s, _ := b.NewSubscriber(ctx)
	defer s.Close()

	ns := Namespace("app")
	_ = s.Subscribe(ctx, ns.PersonalPattern("5"), ns.ChannelPattern("1"), ns.ChannelPattern("2"))
	publishUntilHeard(t, rdb, "app.private-user.5", "hello")
	recv(t, s)

	if err := s.UnsubscribeMatching(ctx, ns.ChannelWildcard()); err != nil {
		t.Fatalf("UnsubscribeMatching: %v", err)
	}
	if got, want := s.Patterns(), []string{"app.private-user.5"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Patterns = %v, want %v", got, want)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, _ := rdb.Publish(ctx, "app.private-channel.1", "gone").Result()
		if n == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("channel pattern still subscribed on the server")
}

func TestRedisPing(t *testing.T) {
	b, _ := newTestRedis(t)
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
