package orch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/negotiator"
	"github.com/dkeye/peercall/internal/app/stream"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var ErrSessionEnded = errors.New("session ended")

// Result describes how a session finished.
type Result struct {
	Status  domain.CallStatus
	Trigger app.Trigger
	Outcome domain.Outcome
	// Logged is true when this party wrote the call-log entry.
	Logged  bool
	Elapsed time.Duration
	Err     error
}

// Session is one call attempt. Everything below the snapshot fields is owned
// by the loop goroutine and touched nowhere else.
type Session struct {
	call      domain.Call
	self      domain.UserID
	role      domain.Role
	cfg       Config
	policy    app.Policy
	registry  *app.Registry
	transport core.SignalTransport
	callLog   core.CallLog
	onUpdate  func(Update)
	neg       *negotiator.Negotiator
	mb        *mailbox
	logger    zerolog.Logger

	ended atomic.Bool
	done  chan struct{}

	snapMu sync.RWMutex
	snap   Update
	result Result

	ctx           context.Context
	status        domain.CallStatus
	connectivity  negotiator.Connectivity
	answered      bool
	published     bool
	reachedActive bool
	muted         bool
	cameraOff     bool
	elapsed       time.Duration
	seen          map[string]struct{}
	disposers     []core.Disposer
	answerTimer   *time.Timer
	restartTimer  *time.Timer
	ticker        *time.Ticker
}

func (s *Session) CallID() domain.CallID { return s.call.ID }
func (s *Session) Role() domain.Role     { return s.role }

// Done is closed after teardown completes.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Snapshot() Update {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Result is valid once Done is closed.
func (s *Session) Result() (Result, bool) {
	select {
	case <-s.done:
	default:
		return Result{}, false
	}
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.result, true
}

func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		r, _ := s.Result()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// End hangs up. Safe from any goroutine, any number of times.
func (s *Session) End() {
	s.mb.put(func() { s.terminate(app.TriggerUser, "", nil) })
}

func (s *Session) SetMuted(muted bool) {
	s.mb.put(func() {
		s.neg.SetAudioEnabled(!muted)
		s.muted = muted
		s.notify(nil)
	})
}

func (s *Session) SetCameraEnabled(on bool) {
	s.mb.put(func() {
		s.neg.SetVideoEnabled(on)
		s.cameraOff = !on
		s.notify(nil)
	})
}

func (s *Session) SwitchCamera(ctx context.Context) error {
	errc := make(chan error, 1)
	if !s.mb.put(func() { errc <- s.neg.FlipCamera(ctx) }) {
		return ErrSessionEnded
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemoteStats reports per-track counters of what the other party sends.
func (s *Session) RemoteStats() []stream.TrackStats { return s.neg.RemoteStats() }

func (s *Session) run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	s.ctx = ctx
	s.setup(ctx)
	for !s.ended.Load() {
		select {
		case <-ctx.Done():
			s.terminate(app.TriggerDetach, "", nil)
		case <-s.mb.notify:
			for _, fn := range s.mb.drain() {
				if s.ended.Load() {
					break
				}
				fn()
			}
		case <-s.tickC():
			s.onTick()
		}
	}
}

func (s *Session) setup(ctx context.Context) {
	s.setStatus(domain.StatusConnecting)

	if err := s.neg.AcquireLocalMedia(ctx, s.call.Kind); err != nil {
		s.fail(err)
		return
	}
	if err := s.neg.CreateConnection(ctx, observer{s}); err != nil {
		s.fail(err)
		return
	}

	dispose, err := s.transport.SubscribeToSignals(ctx, s.call.ID, func(sig domain.Signal) {
		s.mb.put(func() { s.onSignal(sig) })
	})
	if err != nil {
		s.fail(core.Wrap(core.ErrSignalDelivery, err))
		return
	}
	s.disposers = append(s.disposers, dispose)

	dispose, err = s.transport.SubscribeToCall(ctx, s.call.ID, func(c domain.Call) {
		s.mb.put(func() { s.onCallRecord(c) })
	})
	if err != nil {
		s.fail(core.Wrap(core.ErrSignalDelivery, err))
		return
	}
	s.disposers = append(s.disposers, dispose)

	if s.role != domain.RoleInitiator {
		return
	}
	offer, err := s.neg.CreateLocalOffer()
	if err != nil {
		s.fail(err)
		return
	}
	s.send(domain.SignalOffer, offer)
	s.setStatus(domain.StatusRinging)
	s.answerTimer = time.AfterFunc(s.cfg.AnswerTimeout, func() {
		s.mb.put(s.onAnswerTimeout)
	})
}

func (s *Session) fail(err error) {
	s.logger.Error().Err(err).Msg("session setup failed")
	s.terminate(app.TriggerSetup, "", err)
}

func (s *Session) setStatus(st domain.CallStatus) {
	if s.status == st {
		return
	}
	s.logger.Info().Str("from", string(s.status)).Str("to", string(st)).Msg("status")
	s.status = st
	s.notify(nil)
}

func (s *Session) notify(err error) {
	u := Update{
		CallID:       s.call.ID,
		Status:       s.status,
		Elapsed:      s.elapsed,
		Connectivity: s.connectivity,
		Muted:        s.muted,
		CameraOff:    s.cameraOff,
		Err:          err,
	}
	s.snapMu.Lock()
	s.snap = u
	s.snapMu.Unlock()
	if s.onUpdate != nil {
		s.onUpdate(u)
	}
}

func (s *Session) tickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

func (s *Session) onTick() {
	s.elapsed += s.cfg.TickInterval
	s.notify(nil)
}
