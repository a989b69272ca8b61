package chat

import (
	"context"
	"encoding/json"
	"testing"

	"PRelay/tools/errs"
)

func decodePresence(t *testing.T, raw string) (id, status string) {
	t.Helper()
	var p struct {
		Event string `json:"event"`
		Data  struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	if p.Event != EventUsersUpdate {
		t.Fatalf("event = %q", p.Event)
	}
	return p.Data.ID, p.Data.Status
}

func TestAnnounceReachesOnlineFriendsOnly(t *testing.T) {
	reg := NewRegistry()
	gw := newFakeGateway()
	gw.friends["a"] = []string{"b", "c", "a"}

	a, b, d := newTestEntry("a"), newTestEntry("b"), newTestEntry("d")
	for _, e := range []*Entry{a, b, d} {
		reg.Register(e.User.ID, e)
	}

	n, err := NewPresence(reg, gw).Announce(context.Background(), a.User, StatusOnline)
	if err != nil || n != 1 {
		t.Fatalf("Announce = %d,%v want 1", n, err)
	}
	if id, st := decodePresence(t, next(t, b.Client)); id != "a" || st != StatusOnline {
		t.Fatalf("b got %s %s", id, st)
	}
	nothing(t, a.Client)
	nothing(t, d.Client)
}

func TestAnnounceSkipsClosedFriend(t *testing.T) {
	reg := NewRegistry()
	gw := newFakeGateway()
	gw.friends["a"] = []string{"b"}
	a, b := newTestEntry("a"), newTestEntry("b")
	reg.Register("a", a)
	reg.Register("b", b)
	b.Client.Close()

	n, err := NewPresence(reg, gw).Announce(context.Background(), a.User, StatusOffline)
	if err != nil || n != 0 {
		t.Fatalf("Announce = %d,%v want 0", n, err)
	}
}

func TestAnnounceLookupFailure(t *testing.T) {
	reg := NewRegistry()
	gw := newFakeGateway()
	gw.friends["a"] = []string{"b"}
	gw.friendsErr = errs.ErrLookup.WrapMsg("down")
	a, b := newTestEntry("a"), newTestEntry("b")
	reg.Register("a", a)
	reg.Register("b", b)

	n, err := NewPresence(reg, gw).Announce(context.Background(), a.User, StatusOnline)
	if err == nil || !errs.ErrLookup.Is(err) || n != 0 {
		t.Fatalf("Announce = %d,%v want lookup error", n, err)
	}
	nothing(t, b.Client)
	if _, ok := reg.Get("a"); !ok {
		t.Fatal("announcer removed from registry")
	}
	if !a.Client.IsOpen() {
		t.Fatal("announcer connection closed")
	}
}

func TestSyncOnlineFriends(t *testing.T) {
	reg := NewRegistry()
	gw := newFakeGateway()
	gw.friends["a"] = []string{"b", "c"}
	a, b := newTestEntry("a"), newTestEntry("b")
	reg.Register("b", b)

	n, err := NewPresence(reg, gw).SyncOnlineFriends(context.Background(), a.User, a.Client)
	if err != nil || n != 1 {
		t.Fatalf("SyncOnlineFriends = %d,%v want 1", n, err)
	}
	if id, st := decodePresence(t, next(t, a.Client)); id != "b" || st != StatusOnline {
		t.Fatalf("a got %s %s", id, st)
	}
	nothing(t, a.Client)
	nothing(t, b.Client)
}
