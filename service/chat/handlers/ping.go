package handlers

import (
	"context"

	"PRelay/service/chat"
)

// PingHandler answers an application ping with exactly one pong.
type PingHandler struct{}

func NewPingHandler() chat.Handler { return &PingHandler{} }

func (h *PingHandler) Type() string { return chat.TypePing }

func (h *PingHandler) Handle(_ context.Context, s *chat.Session, _ *chat.Frame) error {
	s.Reply(chat.BuildPong())
	return nil
}
