package chat

import (
	"encoding/json"

	"PRelay/service/identity"
	"PRelay/tools/errs"
)

// Client -> relay frame types.
const (
	TypeAuth            = "auth"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeRefreshChannels = "refresh-channels"
)

const (
	EventUsersUpdate = "users.update"

	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
)

// Frame is an inbound control message. Raw keeps the original bytes for handlers
// that need fields beyond the discriminator.
type Frame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Raw   []byte `json:"-"`
}

// ParseFrame decodes a JSON object frame. Anything else is an errs.ErrParse.
func ParseFrame(raw []byte) (*Frame, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, errs.ErrParse.WrapMsg("frame is not a json object", "err", err)
	}
	f := &Frame{Raw: raw}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.ErrParse.WrapMsg("frame fields", "err", err)
	}
	return f, nil
}

type errorFrame struct {
	Error string `json:"error"`
}

type authFrame struct {
	Success string         `json:"success"`
	User    *identity.User `json:"user"`
}

type typeFrame struct {
	Type string `json:"type"`
}

type presenceData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

type presenceFrame struct {
	Event string       `json:"event"`
	Data  presenceData `json:"data"`
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// only fixed shapes are marshalled here
		panic(err)
	}
	return b
}

func BuildError(msg string) []byte {
	return mustJSON(errorFrame{Error: msg})
}

func BuildAuthSuccess(u *identity.User) []byte {
	return mustJSON(authFrame{Success: "Authenticated", User: u})
}

func BuildPong() []byte {
	return mustJSON(typeFrame{Type: TypePong})
}

func BuildPresence(u *identity.User, status string) []byte {
	return mustJSON(presenceFrame{
		Event: EventUsersUpdate,
		Data:  presenceData{ID: u.ID, Username: u.Username, Status: status},
	})
}
