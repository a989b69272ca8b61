package chat

import (
	"context"

	"PRelay/service/identity"
	"PRelay/tools/errs"
)

// Presence pushes users.update events to the friends of a user who are
// currently registered. Presence itself is never stored; the registry is
// consulted at send time.
type Presence struct {
	reg Registry
	gw  identity.Gateway
}

func NewPresence(reg Registry, gw identity.Gateway) *Presence {
	return &Presence{reg: reg, gw: gw}
}

// Announce sends user's status to every online friend and returns how many
// were reached. A lookup failure aborts the whole announcement.
func (p *Presence) Announce(ctx context.Context, user *identity.User, status string) (int, error) {
	friends, err := p.gw.FriendsOf(ctx, user)
	if err != nil {
		return 0, errs.WrapMsg(err, "announce", "userID", user.ID, "status", status)
	}
	payload := BuildPresence(user, status)
	n := 0
	for _, id := range friends {
		if id == user.ID {
			continue
		}
		e, ok := p.reg.Get(id)
		if !ok || e.Client == nil || !e.Client.IsOpen() {
			continue
		}
		if e.Client.Send(payload) {
			n++
		}
	}
	return n, nil
}

// SyncOnlineFriends seeds a fresh connection with one ONLINE event per friend
// already registered.
func (p *Presence) SyncOnlineFriends(ctx context.Context, user *identity.User, c *Client) (int, error) {
	friends, err := p.gw.FriendsOf(ctx, user)
	if err != nil {
		return 0, errs.WrapMsg(err, "sync online friends", "userID", user.ID)
	}
	n := 0
	for _, id := range friends {
		if id == user.ID {
			continue
		}
		e, ok := p.reg.Get(id)
		if !ok || e.User == nil || e.Client == nil || !e.Client.IsOpen() {
			continue
		}
		if c.Send(BuildPresence(e.User, StatusOnline)) {
			n++
		}
	}
	return n, nil
}
