// Package identity talks to the external identity/friends service.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"PRelay/tools/decode"
	"PRelay/tools/errs"
)

const maxBodyBytes = 1 << 20

// User is the authenticated principal of one connection. Token is the raw
// bearer credential, kept for follow-up lookups and never serialized.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"-"`
}

// Gateway is the identity service contract. Implementations must honour ctx
// cancellation so that a closed connection aborts its in-flight calls.
type Gateway interface {
	// Verify maps a bearer token to a user. Failures carry an errs.ErrAuth child code.
	Verify(ctx context.Context, token string) (*User, error)
	// FriendsOf lists the friend ids of user. Failures carry errs.ErrLookup.
	FriendsOf(ctx context.Context, user *User) ([]string, error)
	// ChannelsOf lists the channel ids user belongs to. Failures carry errs.ErrLookup.
	ChannelsOf(ctx context.Context, user *User) ([]string, error)
}

type HTTPConfig struct {
	BaseURL      string
	MePath       string
	FriendsPath  string
	ChannelsPath string
	Timeout      time.Duration
}

type HTTPGateway struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MePath == "" {
		cfg.MePath = "/api/me"
	}
	if cfg.FriendsPath == "" {
		cfg.FriendsPath = "/api/friends"
	}
	if cfg.ChannelsPath == "" {
		cfg.ChannelsPath = "/api/channels"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPGateway{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type userBody struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type idItem struct {
	ID string `json:"id"`
}

type listBody struct {
	Data []idItem `json:"data"`
}

func (g *HTTPGateway) Verify(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errs.ErrMissingToken.Wrap()
	}
	status, body, err := g.get(ctx, g.cfg.MePath, token, nil)
	if err != nil {
		return nil, errs.ErrInvalidToken.WrapMsg("identity request failed", "err", err)
	}
	if status < 200 || status > 299 {
		return nil, errs.ErrInvalidToken.WrapMsg("identity rejected token", "status", status)
	}
	return parseUser(body, token)
}

// parseUser accepts {user: {...}} or a bare user object.
func parseUser(body []byte, token string) (*User, error) {
	m, err := decode.Object(body)
	if err != nil {
		return nil, errs.ErrMalformedResponse.WrapMsg("me body", "err", err)
	}
	if inner, ok := m["user"].(map[string]any); ok {
		m = inner
	}
	ub, err := decode.DecodeMap[userBody](m)
	if err != nil {
		return nil, errs.ErrMalformedResponse.WrapMsg("me body", "err", err)
	}
	if ub.ID == "" {
		return nil, errs.ErrMalformedResponse.WrapMsg("me body has no id")
	}
	name := ub.Username
	if name == "" {
		name = ub.Name
	}
	return &User{ID: ub.ID, Username: name, Token: token}, nil
}

func (g *HTTPGateway) FriendsOf(ctx context.Context, user *User) ([]string, error) {
	return g.list(ctx, "friends", g.cfg.FriendsPath, user)
}

func (g *HTTPGateway) ChannelsOf(ctx context.Context, user *User) ([]string, error) {
	return g.list(ctx, "channels", g.cfg.ChannelsPath, user)
}

func (g *HTTPGateway) list(ctx context.Context, what, p string, user *User) ([]string, error) {
	if user == nil {
		return nil, errs.ErrLookup.WrapMsg("nil user", "what", what)
	}
	status, body, err := g.get(ctx, p, user.Token, url.Values{"user_id": {user.ID}})
	if err != nil {
		return nil, errs.ErrLookup.WrapMsg("request failed", "what", what, "user", user.ID, "err", err)
	}
	if status < 200 || status > 299 {
		return nil, errs.ErrLookup.WrapMsg("bad status", "what", what, "user", user.ID, "status", status)
	}
	ids, err := parseIDList(body)
	if err != nil {
		return nil, errs.ErrLookup.WrapMsg("malformed body", "what", what, "user", user.ID, "err", err)
	}
	return ids, nil
}

// parseIDList accepts {data: [{id}, ...]} or a bare array of objects.
func parseIDList(body []byte) ([]string, error) {
	var m map[string]any
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "[") {
		var arr []any
		if err := json.Unmarshal(body, &arr); err != nil {
			return nil, err
		}
		m = map[string]any{"data": arr}
	} else {
		var err error
		if m, err = decode.Object(body); err != nil {
			return nil, err
		}
	}
	lb, err := decode.DecodeMap[listBody](m)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(lb.Data))
	seen := make(map[string]struct{}, len(lb.Data))
	for _, it := range lb.Data {
		if it.ID == "" {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it.ID)
	}
	return out, nil
}

func (g *HTTPGateway) get(ctx context.Context, p, token string, q url.Values) (int, []byte, error) {
	u := g.cfg.BaseURL + p
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}
