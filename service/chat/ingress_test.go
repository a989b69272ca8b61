package chat

import (
	"context"
	"reflect"
	"testing"

	"PRelay/service/bus"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Event
		refresh bool
		wantErr bool
	}{
		{
			name: "direct in data",
			raw:  `{"event":"DirectMessage","data":{"toUserId":42,"body":"hi"}}`,
			want: Event{Name: "DirectMessage", ToUserID: "42"},
		},
		{
			name: "direct top level",
			raw:  `{"event":"x","toUserId":"7"}`,
			want: Event{Name: "x", ToUserID: "7"},
		},
		{
			name: "broadcast",
			raw:  `{"event":"News","data":{"title":"t"}}`,
			want: Event{Name: "News"},
		},
		{
			name:    "refresh with channel objects",
			raw:     `{"event":"RefreshSubList","data":{"channels":[{"id":1},{"id":"2"}]}}`,
			want:    Event{Name: "RefreshSubList", Channels: []string{"1", "2"}, Listed: true},
			refresh: true,
		},
		{
			name:    "namespaced refresh without list",
			raw:     `{"event":"App\\Events\\RefreshSubList","data":{"userId":5}}`,
			want:    Event{Name: `App\Events\RefreshSubList`, UserID: "5"},
			refresh: true,
		},
		{
			name:    "double encoded data",
			raw:     `{"event":"RefreshSubList","data":"{\"channelIds\":[3]}"}`,
			want:    Event{Name: "RefreshSubList", Channels: []string{"3"}, Listed: true},
			refresh: true,
		},
		{name: "not json", raw: `nope`, wantErr: true},
		{name: "array", raw: `[1]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(*ev, tt.want) {
				t.Fatalf("ParseEvent = %+v, want %+v", *ev, tt.want)
			}
			if ev.IsRefresh() != tt.refresh {
				t.Fatalf("IsRefresh = %v", ev.IsRefresh())
			}
		})
	}
}

type ingressFixture struct {
	b     *bus.Local
	reg   *MemRegistry
	gw    *fakeGateway
	in    *Ingress
	fan   *Fanout
	a, b2 *Entry
}

func newIngressFixture(t *testing.T) *ingressFixture {
	t.Helper()
	f := &ingressFixture{b: bus.NewLocal(), reg: NewRegistry(), gw: newFakeGateway()}
	f.fan = NewFanout(2, 16)
	f.in = NewIngress(f.reg, f.fan, NewMembership(f.gw))
	f.a, f.b2 = newTestEntry("a"), newTestEntry("b")
	for _, e := range []*Entry{f.a, f.b2} {
		e.Sub = openTestSub(t, f.b, e.User.ID)
		f.reg.Register(e.User.ID, e)
	}
	t.Cleanup(func() {
		f.fan.Close()
		_ = f.b.Close()
	})
	return f
}

func msg(payload string) *bus.Message {
	return &bus.Message{Pattern: "app.public.*", Channel: "app.public.x", Payload: []byte(payload)}
}

func TestRouteDirectOnlyToAddressee(t *testing.T) {
	f := newIngressFixture(t)
	payload := `{"event":"DirectMessage","data":{"toUserId":"b","body":"hi"}}`

	if r := f.in.Route(context.Background(), nil, msg(payload)); r != RouteDirect {
		t.Fatalf("route = %s", r)
	}
	if got := next(t, f.b2.Client); got != payload {
		t.Fatalf("b got %s", got)
	}
	nothing(t, f.a.Client)
}

func TestRouteDirectOnMemberHandles(t *testing.T) {
	f := newIngressFixture(t)
	payload := `{"event":"DirectMessage","data":{"toUserId":"b","body":"hi"}}`
	m := &bus.Message{Pattern: "app.private-channel.room", Channel: "app.private-channel.room", Payload: []byte(payload)}

	// both members hold the channel, so both handles see the event
	if r := f.in.Route(context.Background(), f.a, m); r != RouteDropped {
		t.Fatalf("route on a's handle = %s", r)
	}
	if r := f.in.Route(context.Background(), f.b2, m); r != RouteDirect {
		t.Fatalf("route on b's handle = %s", r)
	}
	if got := next(t, f.b2.Client); got != payload {
		t.Fatalf("b got %s", got)
	}
	nothing(t, f.b2.Client)
	nothing(t, f.a.Client)
}

func TestRouteDirectToAbsentUser(t *testing.T) {
	f := newIngressFixture(t)
	if r := f.in.Route(context.Background(), nil, msg(`{"toUserId":"zz"}`)); r != RouteDropped {
		t.Fatalf("route = %s", r)
	}
	nothing(t, f.a.Client)
	nothing(t, f.b2.Client)
}

func TestRouteBroadcastToEveryOpenConnection(t *testing.T) {
	f := newIngressFixture(t)
	closed := newTestEntry("c")
	f.reg.Register("c", closed)
	closed.Client.Close()

	payload := `{"event":"News","data":{"title":"t"}}`
	if r := f.in.Route(context.Background(), nil, msg(payload)); r != RouteBroadcast {
		t.Fatalf("route = %s", r)
	}
	for _, e := range []*Entry{f.a, f.b2} {
		if got := next(t, e.Client); got != payload {
			t.Fatalf("%s got %s", e.User.ID, got)
		}
		nothing(t, e.Client)
	}
	nothing(t, closed.Client)
}

func TestRouteOwnerHandle(t *testing.T) {
	f := newIngressFixture(t)
	payload := `{"event":"ChannelMessage","data":{"text":"x"}}`
	if r := f.in.Route(context.Background(), f.a, msg(payload)); r != RouteOwner {
		t.Fatalf("route = %s", r)
	}
	if got := next(t, f.a.Client); got != payload {
		t.Fatalf("a got %s", got)
	}
	nothing(t, f.b2.Client)
}

func TestRouteRefreshIsNotForwarded(t *testing.T) {
	ctx := context.Background()
	f := newIngressFixture(t)

	refresh := `{"event":"RefreshSubList","data":{"channels":["9"]}}`
	if r := f.in.Route(ctx, f.a, msg(refresh)); r != RouteRefresh {
		t.Fatalf("route = %s", r)
	}
	nothing(t, f.a.Client)
	if got := f.a.Sub.Channels(); !reflect.DeepEqual(got, []string{"9"}) {
		t.Fatalf("channels = %v", got)
	}

	// the new channel now reaches a's handle
	if n, err := f.b.PublishCount(ctx, "app.private-channel.9", []byte(`{"event":"Hello"}`)); err != nil || n != 1 {
		t.Fatalf("PublishCount = %d,%v", n, err)
	}
}

func TestRouteRefreshOnSharedUsesLookup(t *testing.T) {
	f := newIngressFixture(t)
	f.gw.channels["b"] = []string{"x", "y"}

	if r := f.in.Route(context.Background(), nil, msg(`{"event":"RefreshSubList","data":{"userId":"b"}}`)); r != RouteRefresh {
		t.Fatalf("route = %s", r)
	}
	if got := f.b2.Sub.Channels(); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Fatalf("channels = %v", got)
	}
	nothing(t, f.a.Client)
	nothing(t, f.b2.Client)
}

func TestRouteDropsUnparsable(t *testing.T) {
	f := newIngressFixture(t)
	if r := f.in.Route(context.Background(), f.a, msg(`{broken`)); r != RouteDropped {
		t.Fatalf("route = %s", r)
	}
	nothing(t, f.a.Client)
}
