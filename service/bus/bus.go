// Package bus abstracts the backend pattern pub/sub the relay listens to.
// A Subscriber is one handle holding a set of patterns; the relay opens one
// per authenticated user plus a shared one for broadcast traffic.
package bus

import (
	"context"
	"path"
	"sort"
	"sync"
)

// Message is one event received on a subscribed pattern.
type Message struct {
	Pattern string
	Channel string
	Payload []byte
}

type Bus interface {
	NewSubscriber(ctx context.Context) (Subscriber, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Subscriber calls may come from several goroutines; implementations
// serialize mutation of their own pattern set.
type Subscriber interface {
	Subscribe(ctx context.Context, patterns ...string) error
	Unsubscribe(ctx context.Context, patterns ...string) error
	// UnsubscribeMatching drops every held pattern matched by wildcard.
	UnsubscribeMatching(ctx context.Context, wildcard string) error
	Patterns() []string
	// Messages is closed after Close.
	Messages() <-chan *Message
	Close() error
}

// Match reports whether name matches the glob pattern (*, ?, [...]).
// A malformed pattern matches nothing.
func Match(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// patternSet is the bookkeeping shared by all adapters.
type patternSet struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func newPatternSet() *patternSet {
	return &patternSet{set: make(map[string]struct{})}
}

// missing returns the patterns of ps not yet held, deduplicated.
func (s *patternSet) missing(ps []string) []string {
	out := make([]string, 0, len(ps))
	seen := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		if _, ok := s.set[p]; ok {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (s *patternSet) held(ps []string) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		if _, ok := s.set[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *patternSet) matching(wildcard string) []string {
	var out []string
	for p := range s.set {
		if p == wildcard || Match(wildcard, p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (s *patternSet) add(ps []string) {
	for _, p := range ps {
		s.set[p] = struct{}{}
	}
}

func (s *patternSet) remove(ps []string) {
	for _, p := range ps {
		delete(s.set, p)
	}
}

func (s *patternSet) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.set))
	for p := range s.set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *patternSet) first(channel string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.set {
		if p == channel || Match(p, channel) {
			return p, true
		}
	}
	return "", false
}
