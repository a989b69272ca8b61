package chat

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"PRelay/service/identity"
	"PRelay/tools/errs"
	"PRelay/tools/safe"
)

type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// CLOSED is terminal.
var transitions = map[State][]State{
	StateUnauthenticated: {StateAuthenticated, StateClosed},
	StateAuthenticated:   {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Error texts sent to the client before an auth close.
const (
	textUnauthorized   = "Unauthorized"
	textMissingToken   = "Missing token"
	textAuthRequired   = "Authentication required"
	textAuthTimeout    = "Authentication timeout"
	textUnavailable    = "Service unavailable"
	textReplaced       = "Session replaced"
	textServerShutdown = "Server shutting down"
)

// WSConn is the subset of *websocket.Conn a session uses.
type WSConn interface {
	Conn
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

type SessionConf struct {
	AuthTimeout     time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
	RateLimit       float64 // inbound frames per second, <=0 disables
	RateBurst       int
	CleanupTimeout  time.Duration
}

func (c *SessionConf) norm() {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 5 * time.Second
	}
}

// Meta is what the client told us about itself at upgrade time.
type Meta struct {
	ConversationID string
	ClientVersion  string
	Platform       string
	Remote         string
}

func (m Meta) fields() []zap.Field {
	fs := []zap.Field{zap.String("remote", m.Remote)}
	if m.ConversationID != "" {
		fs = append(fs, zap.String("conversation_id", m.ConversationID))
	}
	if m.ClientVersion != "" {
		fs = append(fs, zap.String("client_version", m.ClientVersion))
	}
	if m.Platform != "" {
		fs = append(fs, zap.String("platform", m.Platform))
	}
	return fs
}

// Session drives one connection through
// UNAUTHENTICATED -> AUTHENTICATED -> CLOSED.
//
// Three goroutines cooperate: the reader feeds inbound frames, the client's
// WritePump owns every write, and Run owns the state and all calls to the
// identity service and the bus. Once authenticated a fourth goroutine drains
// the user's subscription into the ingress.
type Session struct {
	srv    *Server
	ws     WSConn
	client *Client
	meta   Meta
	conf   SessionConf
	log    *zap.Logger

	presetToken string
	limiter     *rate.Limiter

	mu    sync.Mutex
	state State
	user  *identity.User
	entry *Entry

	cancel      context.CancelFunc
	cleanupOnce sync.Once
}

func newSession(srv *Server, ws WSConn, client *Client, meta Meta, token string) *Session {
	conf := srv.opts.Session
	conf.norm()
	s := &Session{
		srv:         srv,
		ws:          ws,
		client:      client,
		meta:        meta,
		conf:        conf,
		presetToken: token,
		state:       StateUnauthenticated,
	}
	s.log = srv.log.With(append([]zap.Field{zap.String("conn_id", client.ConnID)}, meta.fields()...)...)
	if conf.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(conf.RateLimit), conf.RateBurst)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return false
	}
	s.log.Debug("session state", zap.Stringer("from", s.state), zap.Stringer("to", to))
	s.state = to
	return true
}

// User is nil until the session is authenticated.
func (s *Session) User() *identity.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) Entry() *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

func (s *Session) Log() *zap.Logger { return s.log }

func (s *Session) Meta() Meta { return s.meta }

// Reply queues payload on this connection only.
func (s *Session) Reply(payload []byte) bool {
	return s.client.Send(payload)
}

// RefreshChannels re-derives membership from the identity service.
func (s *Session) RefreshChannels(ctx context.Context) ([]string, error) {
	e := s.Entry()
	if e == nil {
		return nil, errs.ErrAuth.WrapMsg("not authenticated")
	}
	return s.srv.membership.Refresh(ctx, e.User, e.Sub, nil, false)
}

// Run blocks until the connection is closed and cleanup has finished.
func (s *Session) Run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	defer s.cleanup()

	safe.Go("write-pump", s.client.WritePump)

	inbound := make(chan []byte)
	rlog := s.log
	safe.Go("read-loop", func() { s.readLoop(ctx, inbound, rlog) })

	s.log.Info("connection opened")

	if !s.awaitAuth(ctx, inbound) {
		return
	}

	for {
		select {
		case raw, ok := <-inbound:
			if !ok {
				return
			}
			s.handleFrame(ctx, raw)
		case <-ctx.Done():
			return
		case <-s.client.Done():
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context, inbound chan<- []byte, log *zap.Logger) {
	defer close(inbound)
	defer s.cancel()

	s.ws.SetReadLimit(s.conf.MaxMessageBytes)
	if s.conf.PongWait > 0 {
		_ = s.ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		s.ws.SetPongHandler(func(string) error {
			return s.ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		})
	}

	for {
		mt, data, err := s.ws.ReadMessage()
		if err != nil {
			s.logReadError(log, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if s.conf.PongWait > 0 {
			_ = s.ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		}
		select {
		case inbound <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) logReadError(log *zap.Logger, err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Debug("peer closed", zap.Error(err))
	case errors.As(err, &ne) && ne.Timeout():
		log.Info("read timeout", zap.Error(err))
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn("frame over read limit", zap.Int64("limit", s.conf.MaxMessageBytes))
	default:
		log.Debug("read error", zap.Error(err))
	}
}

// awaitAuth consumes exactly one auth attempt. It reports whether the
// session reached AUTHENTICATED.
func (s *Session) awaitAuth(ctx context.Context, inbound <-chan []byte) bool {
	if s.presetToken != "" {
		return s.authenticate(ctx, s.presetToken)
	}

	timer := time.NewTimer(s.conf.AuthTimeout)
	defer timer.Stop()

	select {
	case raw, ok := <-inbound:
		if !ok {
			return false
		}
		f, err := ParseFrame(raw)
		if err != nil || f.Type != TypeAuth {
			s.reject(errs.ErrMalformedMessage.WrapMsg("first frame must be auth", "err", err), textAuthRequired)
			return false
		}
		return s.authenticate(ctx, f.Token)
	case <-timer.C:
		s.reject(errs.ErrAuth.WrapMsg("no auth frame", "timeout", s.conf.AuthTimeout), textAuthTimeout)
		return false
	case <-ctx.Done():
		return false
	case <-s.client.Done():
		return false
	}
}

func (s *Session) authenticate(ctx context.Context, token string) bool {
	if token == "" {
		s.reject(errs.ErrMissingToken.Wrap(), textMissingToken)
		return false
	}

	user, err := s.srv.gw.Verify(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			s.log.Debug("verify abandoned, connection gone", zap.Error(err))
			return false
		}
		s.reject(err, textUnauthorized)
		return false
	}

	sub, err := s.srv.mux.OpenPersonal(ctx, user.ID)
	if sub == nil {
		s.reject(err, textUnavailable)
		return false
	}
	if err != nil {
		s.log.Warn("personal subscription failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if ctx.Err() != nil || !s.transition(StateAuthenticated) {
		s.closeSub(sub)
		return false
	}

	entry := &Entry{User: user, Client: s.client, Sub: sub}
	s.mu.Lock()
	s.user = user
	s.entry = entry
	s.log = s.log.With(zap.String("user_id", user.ID))
	s.mu.Unlock()

	if prev := s.srv.reg.Register(user.ID, entry); prev != nil && prev != entry {
		s.log.Info("superseding previous connection", zap.String("prev_conn_id", prev.Client.ConnID))
		prev.Client.Shutdown(BuildError(textReplaced), websocket.ClosePolicyViolation, textReplaced)
	}
	s.client.Send(BuildAuthSuccess(user))
	s.log.Info("authenticated", zap.String("username", user.Username))

	safe.Go("bus-loop", func() { s.busLoop(ctx, entry) })

	if ids, err := s.srv.membership.Refresh(ctx, user, sub, nil, false); err != nil {
		s.log.Warn("initial channel membership", zap.Error(err))
	} else {
		s.log.Debug("channels subscribed", zap.Strings("channels", ids))
	}

	if n, err := s.srv.presence.Announce(ctx, user, StatusOnline); err != nil {
		s.log.Warn("announce online", zap.Error(err))
	} else {
		s.log.Debug("announced online", zap.Int("friends", n))
	}
	if n, err := s.srv.presence.SyncOnlineFriends(ctx, user, s.client); err != nil {
		s.log.Warn("sync online friends", zap.Error(err))
	} else {
		s.log.Debug("synced online friends", zap.Int("friends", n))
	}
	return true
}

// reject sends {error} and closes. Only auth failures are surfaced to the client.
func (s *Session) reject(err error, text string) {
	s.log.Info("auth rejected", zap.String("reason", text), zap.Int("code", errs.Code(err)), zap.Error(err))
	s.transition(StateClosed)
	s.client.Shutdown(BuildError(text), websocket.ClosePolicyViolation, text)
}

// handleFrame dispatches one inbound frame. Pings bypass the rate limit so
// every ping is answered.
func (s *Session) handleFrame(ctx context.Context, raw []byte) {
	f, err := ParseFrame(raw)
	if err != nil {
		s.log.Debug("malformed frame ignored", zap.Error(err))
		return
	}
	if f.Type != TypePing && s.limiter != nil && !s.limiter.Allow() {
		s.log.Warn("inbound rate exceeded, frame dropped", zap.String("type", f.Type), zap.Int("bytes", len(raw)))
		return
	}
	err = s.srv.disp.Dispatch(ctx, s, f)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoHandler):
		s.log.Debug("frame ignored", zap.String("type", f.Type), zap.Int("bytes", len(raw)))
	default:
		s.log.Warn("frame handler failed", zap.String("type", f.Type), zap.Error(err))
	}
}

func (s *Session) busLoop(ctx context.Context, e *Entry) {
	msgs := e.Sub.Messages()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return
			}
			route := s.srv.ingress.Route(ctx, e, m)
			s.log.Debug("bus message", zap.String("channel", m.Channel), zap.Stringer("route", route))
		case <-ctx.Done():
			return
		}
	}
}

// cleanup runs once: OFFLINE announcement, subscription teardown, registry
// removal. Each step runs even if the previous one failed.
func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		s.transition(StateClosed)
		if s.cancel != nil {
			s.cancel()
		}

		e := s.Entry()
		if e != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.conf.CleanupTimeout)
			defer cancel()

			s.step("announce offline", func() error {
				// a superseded session no longer owns the user's presence
				if cur, ok := s.srv.reg.Get(e.User.ID); !ok || cur != e {
					return nil
				}
				_, err := s.srv.presence.Announce(ctx, e.User, StatusOffline)
				return err
			})
			s.step("close subscriptions", func() error {
				return e.Sub.CloseAll(ctx)
			})
			s.step("unregister", func() error {
				s.srv.reg.RemoveEntry(e)
				return nil
			})
		}

		s.client.Close()
		<-s.client.Done()
		s.log.Info("connection closed", zap.Int64("dropped", s.client.Dropped()))
	})
}

func (s *Session) step(name string, f func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cleanup step panicked", zap.String("step", name), zap.Error(errs.ErrPanic(r)))
		}
	}()
	if err := f(); err != nil {
		s.log.Warn("cleanup step failed", zap.String("step", name), zap.Error(err))
	}
}

func (s *Session) closeSub(sub *Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.CleanupTimeout)
	defer cancel()
	if err := sub.CloseAll(ctx); err != nil {
		s.log.Warn("close subscription", zap.Error(err))
	}
}
