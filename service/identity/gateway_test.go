package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"PRelay/tools/errs"
	"PRelay/tools/security"
)

func newIdentityServer(t *testing.T, mux *http.ServeMux) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewHTTPGateway(HTTPConfig{BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
}

func TestVerify(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer wrapped":
			_, _ = w.Write([]byte(`{"user":{"id":7,"name":"Ann"}}`))
		case "Bearer bare":
			_, _ = w.Write([]byte(`{"id":"8","username":"bob"}`))
		case "Bearer noid":
			_, _ = w.Write([]byte(`{"name":"ghost"}`))
		case "Bearer junk":
			_, _ = w.Write([]byte(`<html>`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	g := newIdentityServer(t, mux)
	ctx := context.Background()

	u, err := g.Verify(ctx, "wrapped")
	if err != nil {
		t.Fatalf("wrapped: %v", err)
	}
	if *u != (User{ID: "7", Username: "Ann", Token: "wrapped"}) {
		t.Errorf("wrapped user = %+v", u)
	}

	u, err = g.Verify(ctx, "bare")
	if err != nil || u.ID != "8" || u.Username != "bob" {
		t.Errorf("bare = %+v, %v", u, err)
	}

	cases := map[string]int{
		"nope":  errs.InvalidTokenCode,
		"noid":  errs.MalformedResponseCode,
		"junk":  errs.MalformedResponseCode,
		"":      errs.MissingTokenCode,
		"   \t": errs.MissingTokenCode,
	}
	for tok, code := range cases {
		_, err := g.Verify(ctx, tok)
		if errs.Code(err) != code {
			t.Errorf("Verify(%q) code = %d, want %d (%v)", tok, errs.Code(err), code, err)
		}
		if !errs.ErrAuth.Is(err) {
			t.Errorf("Verify(%q) error is not an AuthError: %v", tok, err)
		}
	}
}

func TestVerifyUnreachable(t *testing.T) {
	g := NewHTTPGateway(HTTPConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	_, err := g.Verify(context.Background(), "tok")
	if errs.Code(err) != errs.InvalidTokenCode {
		t.Fatalf("code = %d (%v)", errs.Code(err), err)
	}
}

func TestVerifyHonoursCancel(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	g := newIdentityServer(t, mux)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Verify(ctx, "slow")
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errs.ErrAuth.Is(err) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Verify did not return after cancel")
	}
}

func TestFriendsAndChannels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/friends", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") != "7" || r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":1,"name":"a"},{"id":"2"},{"id":1},{"name":"no id"}]}`))
	})
	mux.HandleFunc("/api/channels", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":10},{"id":11}]`))
	})
	g := newIdentityServer(t, mux)
	ctx := context.Background()
	u := &User{ID: "7", Token: "t"}

	friends, err := g.FriendsOf(ctx, u)
	if err != nil {
		t.Fatalf("FriendsOf: %v", err)
	}
	if want := []string{"1", "2"}; !reflect.DeepEqual(friends, want) {
		t.Errorf("friends = %v, want %v", friends, want)
	}

	channels, err := g.ChannelsOf(ctx, u)
	if err != nil {
		t.Fatalf("ChannelsOf: %v", err)
	}
	if want := []string{"10", "11"}; !reflect.DeepEqual(channels, want) {
		t.Errorf("channels = %v, want %v", channels, want)
	}

	_, err = g.FriendsOf(ctx, &User{ID: "8", Token: "t"})
	if !errs.ErrLookup.Is(err) {
		t.Errorf("forbidden lookup err = %v", err)
	}
	if errs.ErrAuth.Is(err) {
		t.Errorf("lookup failure must not be an AuthError")
	}
}

func TestJWTGateway(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		t.Error("local verification must not call /api/me")
	})
	mux.HandleFunc("/api/friends", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":3}]}`))
	})
	opts := security.DefaultOptions([]byte("secret"))
	g := NewJWTGateway(newIdentityServer(t, mux), opts)

	tok, _, err := security.Generate(opts, "42", map[string]any{"name": "Zed"})
	if err != nil {
		t.Fatal(err)
	}
	u, err := g.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if u.ID != "42" || u.Username != "Zed" || u.Token != tok {
		t.Errorf("user = %+v", u)
	}
	friends, err := g.FriendsOf(context.Background(), u)
	if err != nil || len(friends) != 1 || friends[0] != "3" {
		t.Errorf("friends = %v, %v", friends, err)
	}

	if _, err := g.Verify(context.Background(), "not-a-jwt"); errs.Code(err) != errs.InvalidTokenCode {
		t.Errorf("garbage token code = %d", errs.Code(err))
	}
}
