package chat

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"PRelay/logger"
	"PRelay/service/bus"
	"PRelay/service/identity"
	"PRelay/tools/errs"
	"PRelay/tools/ids"
	"PRelay/tools/safe"
)

type Options struct {
	Namespace bus.Namespace
	// BroadcastPattern is held by one shared subscriber; empty disables it.
	BroadcastPattern string

	Client  ClientConf
	Session SessionConf

	FanoutWorkers int
	FanoutQueue   int

	// Registry defaults to an in-memory one.
	Registry Registry

	// NodeID prefixes connection ids so several relays can share one bus.
	NodeID int64
}

// Server wires the relay components together and tracks live sessions.
type Server struct {
	opts Options
	log  *zap.Logger

	bus bus.Bus
	gw  identity.Gateway

	ids        *ids.Generator
	reg        Registry
	mux        *Multiplexer
	presence   *Presence
	membership *Membership
	ingress    *Ingress
	fanout     *Fanout
	disp       *Dispatcher

	shared bus.Subscriber

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(b bus.Bus, gw identity.Gateway, opts Options) *Server {
	safe.MustNotNil(b, "bus")
	safe.MustNotNil(gw, "identity gateway")
	if opts.Namespace == "" {
		opts.Namespace = "relay"
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	gen, err := ids.NewGenerator(opts.NodeID)
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:       opts,
		log:        logger.With(zap.String("component", "relay")),
		bus:        b,
		gw:         gw,
		ids:        gen,
		reg:        reg,
		mux:        NewMultiplexer(b, opts.Namespace),
		presence:   NewPresence(reg, gw),
		membership: NewMembership(gw),
		fanout:     NewFanout(opts.FanoutWorkers, opts.FanoutQueue),
		disp:       NewDispatcher(),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[*Session]struct{}),
	}
	s.ingress = NewIngress(reg, s.fanout, s.membership)
	return s
}

func (s *Server) Disp() *Dispatcher { return s.disp }

func (s *Server) Registry() Registry { return s.reg }

func (s *Server) Multiplexer() *Multiplexer { return s.mux }

// Start opens the shared broadcast subscription.
func (s *Server) Start(ctx context.Context) error {
	if s.opts.BroadcastPattern == "" {
		return nil
	}
	sub, err := s.bus.NewSubscriber(ctx)
	if err != nil {
		return errs.ErrUnavailable.WrapMsg("shared subscriber", "err", err)
	}
	if err := sub.Subscribe(ctx, s.opts.BroadcastPattern); err != nil {
		_ = sub.Close()
		return errs.ErrBus.WrapMsg("subscribe broadcast", "pattern", s.opts.BroadcastPattern, "err", err)
	}
	s.shared = sub
	s.wg.Add(1)
	safe.Go("broadcast-loop", func() {
		defer s.wg.Done()
		for m := range sub.Messages() {
			route := s.ingress.Route(s.ctx, nil, m)
			s.log.Debug("broadcast message", zap.String("channel", m.Channel), zap.Stringer("route", route))
		}
	})
	s.log.Info("broadcast subscription ready", zap.String("pattern", s.opts.BroadcastPattern))
	return nil
}

// Ready reports whether the bus is reachable.
func (s *Server) Ready(ctx context.Context) error {
	return s.bus.Ping(ctx)
}

// Serve runs a session over an upgraded connection until it closes. A
// non-empty token authenticates immediately instead of waiting for an auth frame.
func (s *Server) Serve(ws WSConn, meta Meta, token string) {
	client := NewClient(s.ids.ConnID(), ws, s.opts.Client)
	sess := newSession(s, ws, client, meta, token)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		client.Shutdown(BuildError(textServerShutdown), websocket.CloseGoingAway, textServerShutdown)
		client.WritePump()
		return
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		s.wg.Done()
	}()
	sess.Run(s.ctx)
}

// Sessions is the number of live connections, authenticated or not.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops accepting connections, closes every session and waits for
// their cleanup, bounded by timeout.
func (s *Server) Close(timeout time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	live := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.client.Shutdown(nil, websocket.CloseGoingAway, textServerShutdown)
	}
	if s.shared != nil {
		_ = s.shared.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.log.Warn("shutdown timed out", zap.Int("sessions", s.Sessions()))
	}
	s.cancel()
	s.fanout.Close()
}
