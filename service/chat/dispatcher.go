package chat

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNoHandler is returned by Dispatch for frame types nobody registered.
var ErrNoHandler = errors.New("no handler")

// Handler processes one kind of authenticated client frame.
type Handler interface {
	Type() string
	Handle(ctx context.Context, s *Session, f *Frame) error
}

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, f *Frame) error {
	h := d.GetHandler(f.Type)
	if h == nil {
		return errors.Wrapf(ErrNoHandler, "type=%q", f.Type)
	}
	return h.Handle(ctx, s, f)
}

func (d *Dispatcher) GetHandler(typ string) Handler {
	h, ok := d.handlers[typ]
	if !ok {
		return nil
	}
	return h
}
