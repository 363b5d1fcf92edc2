package orch

import (
	"context"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// terminate runs once per session no matter how many triggers race.
// Local resources go first; status and log writes are best effort after.
func (s *Session) terminate(trigger app.Trigger, remote domain.CallStatus, cause error) {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	d := s.policy.Decide(app.OutcomeInput{
		Role:          s.role,
		Kind:          s.call.Kind,
		Trigger:       trigger,
		ReachedActive: s.reachedActive,
		Duration:      s.elapsed,
		RemoteStatus:  remote,
	})

	s.stopAnswerTimer()
	s.stopRestartTimer()
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	for _, dispose := range s.disposers {
		dispose()
	}
	s.disposers = nil
	s.mb.close()
	s.neg.Teardown()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if d.Write != "" {
		s.publish(ctx, d.Write)
	}
	logged := false
	if d.Log && s.callLog != nil {
		if err := s.callLog.Record(ctx, s.call.ID, s.call.Initiator, d.Outcome.Text()); err != nil {
			s.logger.Warn().Err(core.Wrap(core.ErrSignalDelivery, err)).Msg("record call log")
		} else {
			logged = true
		}
	}
	s.registry.Release(s.call.ID)

	s.status = d.Final
	res := Result{
		Status:  d.Final,
		Trigger: trigger,
		Outcome: d.Outcome,
		Logged:  logged,
		Elapsed: s.elapsed,
		Err:     cause,
	}
	s.snapMu.Lock()
	s.result = res
	s.snapMu.Unlock()
	s.notify(cause)
	close(s.done)

	s.logger.Info().
		Str("trigger", trigger.String()).
		Str("status", string(d.Final)).
		Bool("logged", logged).
		Dur("elapsed", s.elapsed).
		Msg("session terminated")
}

func (s *Session) publish(ctx context.Context, st domain.CallStatus) {
	var err error
	if st == domain.StatusEnded {
		err = s.transport.EndCall(ctx, s.call.ID)
	} else {
		err = s.transport.UpdateCallStatus(ctx, s.call.ID, st)
	}
	if err != nil {
		s.logger.Warn().Err(core.Wrap(core.ErrSignalDelivery, err)).Str("status", string(st)).Msg("publish status")
	}
}
