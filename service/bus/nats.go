package bus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NatsConfig configures the NATS bus. Subjects use the same dotted names as
// Redis channels; `*` matches exactly one token.
type NatsConfig struct {
	Servers       []string
	Name          string
	User          string
	Password      string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

type NatsBus struct {
	nc *nats.Conn
}

func NewNats(cfg NatsConfig) (*NatsBus, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &NatsBus{nc: nc}, nil
}

func (b *NatsBus) NewSubscriber(_ context.Context) (Subscriber, error) {
	if b.nc.IsClosed() {
		return nil, errors.New("nats connection closed")
	}
	return &natsSubscriber{
		nc:   b.nc,
		set:  newPatternSet(),
		subs: make(map[string]*nats.Subscription),
		out:  make(chan *Message, 256),
		done: make(chan struct{}),
	}, nil
}

func (b *NatsBus) Publish(_ context.Context, subject string, payload []byte) error {
	return errors.Wrapf(b.nc.Publish(subject, payload), "nats publish %s", subject)
}

func (b *NatsBus) Ping(ctx context.Context) error {
	timeout := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	return b.nc.FlushTimeout(timeout)
}

func (b *NatsBus) Close() error {
	return b.nc.Drain()
}

type natsSubscriber struct {
	nc   *nats.Conn
	set  *patternSet
	subs map[string]*nats.Subscription // guarded by set.mu

	outMu  sync.RWMutex
	closed bool
	out    chan *Message
	done   chan struct{}
	once   sync.Once
}

func (s *natsSubscriber) deliver(pattern string) nats.MsgHandler {
	return func(m *nats.Msg) {
		s.outMu.RLock()
		defer s.outMu.RUnlock()
		if s.closed {
			return
		}
		msg := &Message{Pattern: pattern, Channel: m.Subject, Payload: append([]byte(nil), m.Data...)}
		select {
		case s.out <- msg:
		case <-s.done:
		}
	}
}

func (s *natsSubscriber) Subscribe(_ context.Context, patterns ...string) error {
	s.set.mu.Lock()
	defer s.set.mu.Unlock()
	for _, p := range s.set.missing(patterns) {
		sub, err := s.nc.Subscribe(p, s.deliver(p))
		if err != nil {
			return errors.Wrapf(err, "nats subscribe %s", p)
		}
		s.subs[p] = sub
		s.set.add([]string{p})
	}
	return nil
}

func (s *natsSubscriber) Unsubscribe(_ context.Context, patterns ...string) error {
	s.set.mu.Lock()
	defer s.set.mu.Unlock()
	return s.unsubscribeLocked(s.set.held(patterns))
}

func (s *natsSubscriber) UnsubscribeMatching(_ context.Context, wildcard string) error {
	s.set.mu.Lock()
	defer s.set.mu.Unlock()
	return s.unsubscribeLocked(s.set.matching(wildcard))
}

func (s *natsSubscriber) unsubscribeLocked(todo []string) error {
	var firstErr error
	for _, p := range todo {
		if sub := s.subs[p]; sub != nil {
			if err := sub.Unsubscribe(); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "nats unsubscribe %s", p)
				continue
			}
		}
		delete(s.subs, p)
		s.set.remove([]string{p})
	}
	return firstErr
}

func (s *natsSubscriber) Patterns() []string { return s.set.list() }

func (s *natsSubscriber) Messages() <-chan *Message { return s.out }

func (s *natsSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		s.set.mu.Lock()
		all := make([]string, 0, len(s.subs))
		for p := range s.subs {
			all = append(all, p)
		}
		err = s.unsubscribeLocked(all)
		s.set.mu.Unlock()

		close(s.done)
		s.outMu.Lock()
		s.closed = true
		close(s.out)
		s.outMu.Unlock()
	})
	return err
}
