package core

import (
	"context"

	"github.com/dkeye/peercall/internal/domain"
)

//go:generate mockgen -destination=mocks/signal_mock.go -package=mocks . SignalTransport

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Disposer cancels a subscription. Calling it more than once is a no-op.
type Disposer func()

type (
	SignalHandler func(domain.Signal)
	CallHandler   func(domain.Call)
)

// SignalTransport is the backing message-delivery service as seen by one party.
// Delivery is at-least-once and unordered; a party's own writes may come back to it.
type SignalTransport interface {
	SubscribeToSignals(ctx context.Context, callID domain.CallID, h SignalHandler) (Disposer, error)
	WriteSignal(ctx context.Context, callID domain.CallID, sender domain.UserID, t domain.SignalType, data string) error
	SubscribeToCall(ctx context.Context, callID domain.CallID, h CallHandler) (Disposer, error)
	EndCall(ctx context.Context, callID domain.CallID) error
	UpdateCallStatus(ctx context.Context, callID domain.CallID, status domain.CallStatus) error
}
