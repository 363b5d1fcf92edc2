// Package hub is the backing store behind signaling: call status records,
// per-call signal history and call-log messages, with push subscriptions.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var (
	ErrCallNotFound   = errors.New("call not found")
	ErrNotParticipant = errors.New("sender is not a participant")
	ErrInvalidSignal  = errors.New("invalid signal type")
	ErrCallFinished   = errors.New("call already finished")
	ErrSameParty      = errors.New("initiator and callee are the same user")
)

type callState struct {
	record     domain.Call
	signals    []domain.Signal
	messages   []domain.Message
	signalSubs map[uint64]core.SignalHandler
	callSubs   map[uint64]core.CallHandler
}

type Hub struct {
	mu    sync.RWMutex
	calls map[domain.CallID]*callState

	seq    atomic.Uint64
	subSeq atomic.Uint64

	now func() time.Time
}

func New() *Hub {
	return &Hub{
		calls: make(map[domain.CallID]*callState),
		now:   time.Now,
	}
}

func (h *Hub) CreateCall(initiator, callee domain.UserID, kind domain.CallKind) (domain.Call, error) {
	if initiator == "" || callee == "" {
		return domain.Call{}, domain.ErrUserIDEmpty
	}
	if initiator == callee {
		return domain.Call{}, ErrSameParty
	}
	if _, err := domain.ParseCallKind(string(kind)); err != nil {
		return domain.Call{}, err
	}
	now := h.now()
	rec := domain.Call{
		ID:        domain.NewCallID(),
		Initiator: initiator,
		Callee:    callee,
		Kind:      kind,
		Status:    domain.StatusRinging,
		CreatedAt: now,
		UpdatedAt: now,
	}
	h.mu.Lock()
	h.calls[rec.ID] = &callState{
		record:     rec,
		signalSubs: make(map[uint64]core.SignalHandler),
		callSubs:   make(map[uint64]core.CallHandler),
	}
	h.mu.Unlock()
	log.Info().Str("module", "app.hub").Str("call_id", string(rec.ID)).Str("kind", string(kind)).Msg("call created")
	return rec, nil
}

func (h *Hub) Call(id domain.CallID) (domain.Call, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.calls[id]
	if !ok {
		return domain.Call{}, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	return st.record, nil
}

// PostSignal stores a signal and pushes it to every subscriber of the call,
// the sender included.
func (h *Hub) PostSignal(id domain.CallID, sender domain.UserID, t domain.SignalType, data string) (domain.Signal, error) {
	if !t.Valid() {
		return domain.Signal{}, fmt.Errorf("%w: %q", ErrInvalidSignal, t)
	}
	h.mu.Lock()
	st, ok := h.calls[id]
	if !ok {
		h.mu.Unlock()
		return domain.Signal{}, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	if _, ok := st.record.RoleOf(sender); !ok {
		h.mu.Unlock()
		return domain.Signal{}, ErrNotParticipant
	}
	sig := domain.Signal{
		SenderID:  sender,
		Type:      t,
		Data:      data,
		Timestamp: h.now().UnixMilli(),
		Seq:       h.seq.Add(1),
	}
	st.signals = append(st.signals, sig)
	subs := make([]core.SignalHandler, 0, len(st.signalSubs))
	for _, fn := range st.signalSubs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(sig)
	}
	return sig, nil
}

// SubscribeSignals replays the call's signal history, then streams new ones.
func (h *Hub) SubscribeSignals(id domain.CallID, fn core.SignalHandler) (core.Disposer, error) {
	h.mu.Lock()
	st, ok := h.calls[id]
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	key := h.subSeq.Add(1)
	st.signalSubs[key] = fn
	history := append([]domain.Signal(nil), st.signals...)
	h.mu.Unlock()

	for _, sig := range history {
		fn(sig)
	}
	return h.disposer(func(st *callState) { delete(st.signalSubs, key) }, id), nil
}

// SubscribeCall delivers the current record, then every change.
func (h *Hub) SubscribeCall(id domain.CallID, fn core.CallHandler) (core.Disposer, error) {
	h.mu.Lock()
	st, ok := h.calls[id]
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	key := h.subSeq.Add(1)
	st.callSubs[key] = fn
	rec := st.record
	h.mu.Unlock()

	fn(rec)
	return h.disposer(func(st *callState) { delete(st.callSubs, key) }, id), nil
}

func (h *Hub) disposer(remove func(*callState), id domain.CallID) core.Disposer {
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if st, ok := h.calls[id]; ok {
				remove(st)
			}
		})
	}
}

// UpdateStatus moves the record. A terminal status is final: later writes fail
// with ErrCallFinished. Writing the current status is a no-op.
func (h *Hub) UpdateStatus(id domain.CallID, status domain.CallStatus) (domain.Call, error) {
	if _, err := domain.ParseCallStatus(string(status)); err != nil {
		return domain.Call{}, err
	}
	h.mu.Lock()
	st, ok := h.calls[id]
	if !ok {
		h.mu.Unlock()
		return domain.Call{}, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	if st.record.Status == status {
		rec := st.record
		h.mu.Unlock()
		return rec, nil
	}
	if st.record.Status.Terminal() {
		rec := st.record
		h.mu.Unlock()
		return rec, ErrCallFinished
	}
	st.record.Status = status
	st.record.UpdatedAt = h.now()
	rec := st.record
	subs := make([]core.CallHandler, 0, len(st.callSubs))
	for _, fn := range st.callSubs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	log.Info().Str("module", "app.hub").Str("call_id", string(id)).Str("status", string(status)).Msg("status updated")
	for _, fn := range subs {
		fn(rec)
	}
	return rec, nil
}

func (h *Hub) EndCall(id domain.CallID) (domain.Call, error) {
	return h.UpdateStatus(id, domain.StatusEnded)
}

func (h *Hub) AppendMessage(id domain.CallID, author domain.UserID, text string) (domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.calls[id]
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	if _, ok := st.record.RoleOf(author); !ok {
		return domain.Message{}, ErrNotParticipant
	}
	m := domain.Message{CallID: id, Author: author, Text: text, CreatedAt: h.now()}
	st.messages = append(st.messages, m)
	return m, nil
}

func (h *Hub) Messages(id domain.CallID) ([]domain.Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.calls[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	return append([]domain.Message(nil), st.messages...), nil
}

func (h *Hub) Signals(id domain.CallID) ([]domain.Signal, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.calls[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	return append([]domain.Signal(nil), st.signals...), nil
}

// Sweep drops finished calls untouched for longer than retention.
func (h *Hub) Sweep(retention time.Duration) int {
	cutoff := h.now().Add(-retention)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, st := range h.calls {
		if st.record.Status.Terminal() && st.record.UpdatedAt.Before(cutoff) {
			delete(h.calls, id)
			n++
		}
	}
	return n
}

// Janitor sweeps every interval until ctx is done.
func (h *Hub) Janitor(ctx context.Context, every, retention time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := h.Sweep(retention); n > 0 {
				log.Info().Str("module", "app.hub").Int("removed", n).Msg("swept finished calls")
			}
		}
	}
}
