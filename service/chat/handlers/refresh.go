package handlers

import (
	"context"

	"go.uber.org/zap"

	"PRelay/service/chat"
)

// RefreshHandler re-derives the caller's channel membership from the
// identity service. Nothing is sent back; failures are only logged.
type RefreshHandler struct{}

func NewRefreshHandler() chat.Handler { return &RefreshHandler{} }

func (h *RefreshHandler) Type() string { return chat.TypeRefreshChannels }

func (h *RefreshHandler) Handle(ctx context.Context, s *chat.Session, _ *chat.Frame) error {
	ids, err := s.RefreshChannels(ctx)
	if err != nil {
		return err
	}
	s.Log().Debug("channels refreshed", zap.Strings("channels", ids))
	return nil
}
