package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"PRelay/service/identity"
	"PRelay/tools/errs"
)

type fakeConn struct {
	mu        sync.Mutex
	msgs      [][]byte
	controls  []int
	closed    bool
	failWrite bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrite {
		return errors.New("write failed")
	}
	c.msgs = append(c.msgs, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(mt int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, mt)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, string(m))
	}
	return out
}

type fakeGateway struct {
	mu          sync.Mutex
	friends     map[string][]string
	channels    map[string][]string
	friendsErr  error
	channelsErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{friends: map[string][]string{}, channels: map[string][]string{}}
}

func (g *fakeGateway) Verify(_ context.Context, token string) (*identity.User, error) {
	if token == "" {
		return nil, errs.ErrMissingToken.Wrap()
	}
	return &identity.User{ID: token, Username: "user-" + token, Token: token}, nil
}

func (g *fakeGateway) FriendsOf(_ context.Context, u *identity.User) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.friendsErr != nil {
		return nil, g.friendsErr
	}
	return g.friends[u.ID], nil
}

func (g *fakeGateway) ChannelsOf(_ context.Context, u *identity.User) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.channelsErr != nil {
		return nil, g.channelsErr
	}
	return g.channels[u.ID], nil
}

func newTestClient(id string) *Client {
	return NewClient("conn-"+id, &fakeConn{}, ClientConf{SendQueueSize: 16})
}

func newTestEntry(id string) *Entry {
	return &Entry{
		User:   &identity.User{ID: id, Username: "user-" + id},
		Client: newTestClient(id),
	}
}

// next reads one queued payload without a running WritePump.
func next(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case p := <-c.send:
		return string(p)
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timeout waiting for payload", c.ConnID)
	}
	return ""
}

func nothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case p := <-c.send:
		t.Fatalf("%s: unexpected payload %s", c.ConnID, p)
	case <-time.After(50 * time.Millisecond):
	}
}
