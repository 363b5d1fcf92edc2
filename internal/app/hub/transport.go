package hub

import (
	"context"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// Transport lets a session in the same process talk to a Hub directly.
// Subscriptions end when their context does.
type Transport struct {
	hub *Hub
}

var (
	_ core.SignalTransport = (*Transport)(nil)
	_ core.CallLog         = (*Transport)(nil)
)

func NewTransport(h *Hub) *Transport {
	return &Transport{hub: h}
}

func (t *Transport) SubscribeToSignals(ctx context.Context, callID domain.CallID, fn core.SignalHandler) (core.Disposer, error) {
	dispose, err := t.hub.SubscribeSignals(callID, fn)
	if err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, dispose)
	return dispose, nil
}

func (t *Transport) WriteSignal(_ context.Context, callID domain.CallID, sender domain.UserID, st domain.SignalType, data string) error {
	_, err := t.hub.PostSignal(callID, sender, st, data)
	return err
}

func (t *Transport) SubscribeToCall(ctx context.Context, callID domain.CallID, fn core.CallHandler) (core.Disposer, error) {
	dispose, err := t.hub.SubscribeCall(callID, fn)
	if err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, dispose)
	return dispose, nil
}

func (t *Transport) EndCall(_ context.Context, callID domain.CallID) error {
	_, err := t.hub.EndCall(callID)
	return err
}

func (t *Transport) UpdateCallStatus(_ context.Context, callID domain.CallID, status domain.CallStatus) error {
	_, err := t.hub.UpdateStatus(callID, status)
	return err
}

func (t *Transport) Record(_ context.Context, callID domain.CallID, author domain.UserID, text string) error {
	_, err := t.hub.AppendMessage(callID, author, text)
	return err
}
