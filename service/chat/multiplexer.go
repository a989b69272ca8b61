package chat

import (
	"context"
	"sync"

	"PRelay/service/bus"
	"PRelay/tools/errs"
)

// Multiplexer opens one bus subscriber handle per authenticated user.
type Multiplexer struct {
	bus bus.Bus
	ns  bus.Namespace
}

func NewMultiplexer(b bus.Bus, ns bus.Namespace) *Multiplexer {
	return &Multiplexer{bus: b, ns: ns}
}

func (m *Multiplexer) Namespace() bus.Namespace { return m.ns }

// OpenPersonal creates the user's handle and subscribes its personal pattern.
// A handle that cannot be created is an errs.ErrUnavailable; a handle whose
// personal subscribe fails is still returned together with an errs.ErrBus.
func (m *Multiplexer) OpenPersonal(ctx context.Context, userID string) (*Subscription, error) {
	if !bus.ValidSegment(userID) {
		return nil, errs.ErrBus.WrapMsg("user id not usable in a pattern", "userID", userID)
	}
	h, err := m.bus.NewSubscriber(ctx)
	if err != nil {
		return nil, errs.ErrUnavailable.WrapMsg("new subscriber", "userID", userID, "err", err)
	}
	s := &Subscription{userID: userID, ns: m.ns, handle: h}
	if err := h.Subscribe(ctx, m.ns.PersonalPattern(userID)); err != nil {
		return s, errs.ErrBus.WrapMsg("subscribe personal", "userID", userID, "err", err)
	}
	return s, nil
}

// Subscription is the pattern set of one user. Mutations are serialized so
// two refreshes for the same user never interleave on the handle.
type Subscription struct {
	userID string
	ns     bus.Namespace
	handle bus.Subscriber

	mu       sync.Mutex
	channels []string
	closed   bool
}

func (s *Subscription) UserID() string { return s.userID }

// ReplaceChannels drops every channel pattern with one wildcard unsubscribe
// and subscribes the new set. The personal pattern is never touched.
// Ids that would widen a pattern are skipped.
func (s *Subscription) ReplaceChannels(ctx context.Context, channelIDs []string) error {
	ids := normalizeIDs(channelIDs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrBus.WrapMsg("subscription closed", "userID", s.userID)
	}

	if err := s.handle.UnsubscribeMatching(ctx, s.ns.ChannelWildcard()); err != nil {
		return errs.ErrBus.WrapMsg("unsubscribe channels", "userID", s.userID, "err", err)
	}
	s.channels = nil
	if len(ids) == 0 {
		return nil
	}

	patterns := make([]string, 0, len(ids))
	for _, id := range ids {
		patterns = append(patterns, s.ns.ChannelPattern(id))
	}
	if err := s.handle.Subscribe(ctx, patterns...); err != nil {
		return errs.ErrBus.WrapMsg("subscribe channels", "userID", s.userID, "count", len(ids), "err", err)
	}
	s.channels = ids
	return nil
}

// Channels is the last channel set successfully subscribed.
func (s *Subscription) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.channels...)
}

func (s *Subscription) Patterns() []string { return s.handle.Patterns() }

func (s *Subscription) Messages() <-chan *bus.Message { return s.handle.Messages() }

// CloseAll releases every pattern and the handle. Safe to call more than once.
func (s *Subscription) CloseAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.channels = nil

	var first error
	if ps := s.handle.Patterns(); len(ps) > 0 {
		if err := s.handle.Unsubscribe(ctx, ps...); err != nil {
			first = errs.ErrBus.WrapMsg("unsubscribe all", "userID", s.userID, "err", err)
		}
	}
	if err := s.handle.Close(); err != nil && first == nil {
		first = errs.ErrBus.WrapMsg("close subscriber", "userID", s.userID, "err", err)
	}
	return first
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if !bus.ValidSegment(id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
