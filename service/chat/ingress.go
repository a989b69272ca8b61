package chat

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"PRelay/logger"
	"PRelay/service/bus"
	"PRelay/tools/decode"
	"PRelay/tools/errs"
)

// EventRefreshSubList tags an internal membership refresh. It is consumed
// by the relay and never reaches a client.
const EventRefreshSubList = "RefreshSubList"

// Event is the routing view of a bus payload. The payload itself is
// forwarded untouched.
type Event struct {
	Name     string
	ToUserID string
	// UserID names the refresh target when a refresh arrives on the shared subscription.
	UserID   string
	Channels []string
	Listed   bool
}

// IsRefresh also accepts namespaced event names such as App\Events\RefreshSubList.
func (e *Event) IsRefresh() bool {
	if e.Name == EventRefreshSubList {
		return true
	}
	return strings.HasSuffix(e.Name, "\\"+EventRefreshSubList) || strings.HasSuffix(e.Name, "."+EventRefreshSubList)
}

type eventData struct {
	ToUserID   string   `json:"toUserId"`
	UserID     string   `json:"userId"`
	Channels   []string `json:"channels"`
	ChannelIDs []string `json:"channelIds"`
}

// ParseEvent extracts the routing fields of a bus payload. Both
// {event, data:{toUserId}} and a top-level toUserId are understood; data
// may arrive double encoded as a JSON string.
func ParseEvent(payload []byte) (*Event, error) {
	m, err := decode.Object(payload)
	if err != nil {
		return nil, errs.ErrParse.WrapMsg("bus payload", "err", err)
	}
	ev := &Event{}
	if ev.Name, _ = decode.ReadString(m, "event"); ev.Name == "" {
		ev.Name, _ = decode.ReadString(m, "type")
	}
	ev.ToUserID, _ = decode.ReadString(m, "toUserId")

	data := dataObject(m["data"])
	if data == nil {
		return ev, nil
	}
	d, err := decode.DecodeMap[eventData](data)
	if err != nil {
		return nil, errs.ErrParse.WrapMsg("bus payload data", "err", err)
	}
	if d.ToUserID != "" {
		ev.ToUserID = d.ToUserID
	}
	ev.UserID = d.UserID
	_, hasChannels := data["channels"]
	_, hasIDs := data["channelIds"]
	switch {
	case hasChannels:
		ev.Channels, ev.Listed = d.Channels, true
	case hasIDs:
		ev.Channels, ev.Listed = d.ChannelIDs, true
	}
	return ev, nil
}

func dataObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		m, err := decode.Object([]byte(t))
		if err != nil {
			return nil
		}
		return m
	case json.RawMessage:
		m, err := decode.Object(t)
		if err != nil {
			return nil
		}
		return m
	}
	return nil
}

type Route int

const (
	RouteDropped Route = iota
	RouteRefresh
	RouteDirect
	RouteOwner
	RouteBroadcast
)

func (r Route) String() string {
	switch r {
	case RouteRefresh:
		return "refresh"
	case RouteDirect:
		return "direct"
	case RouteOwner:
		return "owner"
	case RouteBroadcast:
		return "broadcast"
	default:
		return "dropped"
	}
}

// Ingress routes bus messages to connections.
type Ingress struct {
	reg        Registry
	fanout     *Fanout
	membership *Membership
}

func NewIngress(reg Registry, fanout *Fanout, membership *Membership) *Ingress {
	return &Ingress{reg: reg, fanout: fanout, membership: membership}
}

// Route handles one message. owner is the entry whose handle received it,
// nil for the shared broadcast subscription.
//
// On a user handle: a refresh replaces the owner's channels, an event
// addressed to the owner goes to it, one addressed to anyone else is
// dropped, anything else goes to the owner only. On the
// shared subscription: an addressed event goes to its addressee, anything
// else to every registered connection.
func (in *Ingress) Route(ctx context.Context, owner *Entry, m *bus.Message) Route {
	ev, err := ParseEvent(m.Payload)
	if err != nil {
		logger.Warn("drop bus message", zap.String("channel", m.Channel), zap.Error(err))
		return RouteDropped
	}

	if ev.IsRefresh() {
		target := owner
		if target == nil {
			target = in.lookup(ev.UserID)
		}
		if target == nil {
			logger.Debug("refresh for unknown user", zap.String("channel", m.Channel), zap.String("user_id", ev.UserID))
			return RouteDropped
		}
		ids, err := in.membership.Refresh(ctx, target.User, target.Sub, ev.Channels, ev.Listed)
		if err != nil {
			logger.Warn("refresh channels from bus", zap.String("user_id", target.User.ID), zap.Error(err))
		} else {
			logger.Debug("channels replaced", zap.String("user_id", target.User.ID), zap.Strings("channels", ids))
		}
		return RouteRefresh
	}

	if ev.ToUserID != "" {
		// every member's handle sees a channel event; only the addressee's delivers it
		if owner != nil && owner.User.ID != ev.ToUserID {
			return RouteDropped
		}
		e := in.lookup(ev.ToUserID)
		if e == nil || !e.Client.IsOpen() {
			return RouteDropped
		}
		if !e.Client.Send(m.Payload) {
			logger.Debug("direct send dropped", zap.String("user_id", ev.ToUserID))
		}
		return RouteDirect
	}

	if owner != nil {
		if owner.Client.IsOpen() {
			owner.Client.Send(m.Payload)
		}
		return RouteOwner
	}

	entries := in.reg.All()
	targets := make([]*Client, 0, len(entries))
	for _, e := range entries {
		if e.Client != nil && e.Client.IsOpen() {
			targets = append(targets, e.Client)
		}
	}
	if !in.fanout.Broadcast(targets, m.Payload) {
		logger.Warn("broadcast queue full, event dropped", zap.String("channel", m.Channel), zap.Int("targets", len(targets)))
		return RouteDropped
	}
	return RouteBroadcast
}

func (in *Ingress) lookup(userID string) *Entry {
	if userID == "" {
		return nil
	}
	e, ok := in.reg.Get(userID)
	if !ok || e.Client == nil {
		return nil
	}
	return e
}
