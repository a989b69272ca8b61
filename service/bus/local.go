package bus

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Local is an in-process bus with Redis-style glob patterns. Used for
// single-binary development and tests.
type Local struct {
	mu     sync.RWMutex
	subs   map[*localSubscriber]struct{}
	closed bool
}

func NewLocal() *Local {
	return &Local{subs: make(map[*localSubscriber]struct{})}
}

func (b *Local) NewSubscriber(_ context.Context) (Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("local bus closed")
	}
	s := &localSubscriber{
		bus:  b,
		set:  newPatternSet(),
		out:  make(chan *Message, 256),
		done: make(chan struct{}),
	}
	b.subs[s] = struct{}{}
	return s, nil
}

// Publish delivers payload once to every subscriber holding a matching
// pattern and returns the number of receivers, like Redis PUBLISH.
func (b *Local) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := b.PublishCount(ctx, channel, payload)
	return err
}

func (b *Local) PublishCount(ctx context.Context, channel string, payload []byte) (int, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0, errors.New("local bus closed")
	}
	targets := make([]*localSubscriber, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	n := 0
	for _, s := range targets {
		pattern, ok := s.set.first(channel)
		if !ok {
			continue
		}
		if s.deliver(ctx, &Message{Pattern: pattern, Channel: channel, Payload: append([]byte(nil), payload...)}) {
			n++
		}
	}
	return n, ctx.Err()
}

func (b *Local) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("local bus closed")
	}
	return nil
}

func (b *Local) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[*localSubscriber]struct{}{}
	b.closed = true
	b.mu.Unlock()
	for s := range subs {
		_ = s.Close()
	}
	return nil
}

func (b *Local) drop(s *localSubscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

type localSubscriber struct {
	bus *Local
	set *patternSet

	outMu  sync.RWMutex
	closed bool
	out    chan *Message
	done   chan struct{}
	once   sync.Once
}

func (s *localSubscriber) deliver(ctx context.Context, m *Message) bool {
	s.outMu.RLock()
	defer s.outMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- m:
		return true
	case <-s.done:
	case <-ctx.Done():
	}
	return false
}

func (s *localSubscriber) Subscribe(_ context.Context, patterns ...string) error {
	s.set.mu.Lock()
	defer s.set.mu.Unlock()
	s.set.add(s.set.missing(patterns))
	return nil
}

func (s *localSubscriber) Unsubscribe(_ context.Context, patterns ...string) error {
	s.set.mu.Lock()
	defer s.set.mu.Unlock()
	s.set.remove(s.set.held(patterns))
	return nil
}

func (s *localSubscriber) UnsubscribeMatching(_ context.Context, wildcard string) error {
	s.set.mu.Lock()
	defer s.set.mu.Unlock()
	s.set.remove(s.set.matching(wildcard))
	return nil
}

func (s *localSubscriber) Patterns() []string { return s.set.list() }

func (s *localSubscriber) Messages() <-chan *Message { return s.out }

func (s *localSubscriber) Close() error {
	s.once.Do(func() {
		s.bus.drop(s)
		close(s.done)
		s.outMu.Lock()
		s.closed = true
		close(s.out)
		s.outMu.Unlock()
	})
	return nil
}
