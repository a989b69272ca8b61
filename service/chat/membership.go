package chat

import (
	"context"

	"PRelay/service/identity"
	"PRelay/tools/errs"
)

// Membership feeds Subscription.ReplaceChannels from either trigger: a list
// pushed on the bus, or a fresh lookup against the identity service.
type Membership struct {
	gw identity.Gateway
}

func NewMembership(gw identity.Gateway) *Membership {
	return &Membership{gw: gw}
}

// Refresh replaces sub's channel set. When listed is false the list is
// fetched with ChannelsOf; a failed lookup leaves the subscription untouched.
func (m *Membership) Refresh(ctx context.Context, user *identity.User, sub *Subscription, ids []string, listed bool) ([]string, error) {
	if sub == nil {
		return nil, errs.ErrBus.WrapMsg("no subscription", "userID", user.ID)
	}
	if !listed {
		var err error
		ids, err = m.gw.ChannelsOf(ctx, user)
		if err != nil {
			return nil, errs.WrapMsg(err, "refresh channels", "userID", user.ID)
		}
	}
	if err := sub.ReplaceChannels(ctx, ids); err != nil {
		return nil, err
	}
	return sub.Channels(), nil
}
