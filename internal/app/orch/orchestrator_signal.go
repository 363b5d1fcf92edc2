package orch

import (
	"context"
	"errors"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/negotiator"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

func (s *Session) send(t domain.SignalType, payload string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
	defer cancel()
	if err := s.transport.WriteSignal(ctx, s.call.ID, s.self, t, payload); err != nil {
		s.logger.Warn().Err(core.Wrap(core.ErrSignalDelivery, err)).Str("type", string(t)).Msg("send signal")
	}
}

func (s *Session) onSignal(sig domain.Signal) {
	if sig.SenderID == s.self {
		return
	}
	key := sig.Key()
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}

	switch sig.Type {
	case domain.SignalOffer:
		s.onOffer(sig)
	case domain.SignalAnswer:
		s.onAnswer(sig)
	case domain.SignalCandidate:
		if err := s.neg.AddRemoteCandidate(sig.Data); err != nil {
			s.logger.Warn().Err(err).Msg("remote candidate")
		}
	default:
		s.logger.Warn().Str("type", string(sig.Type)).Msg("unknown signal type")
	}
}

// onOffer answers the first offer and any later restart offer. An offer that
// does not decode is dropped; the sender may still deliver a good one.
func (s *Session) onOffer(sig domain.Signal) {
	if s.role != domain.RoleResponder {
		s.logger.Warn().Msg("initiator got an offer, ignoring")
		return
	}
	answer, err := s.neg.ApplyRemoteOfferAndAnswer(sig.Data)
	if errors.Is(err, negotiator.ErrMalformed) {
		s.logger.Warn().Err(err).Msg("dropping offer")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("apply offer")
		if !s.published {
			s.terminate(app.TriggerSetup, "", err)
		}
		return
	}
	s.send(domain.SignalAnswer, answer)
	if s.published {
		return
	}
	s.published = true
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
	defer cancel()
	if err := s.transport.UpdateCallStatus(ctx, s.call.ID, domain.StatusActive); err != nil {
		s.logger.Warn().Err(core.Wrap(core.ErrSignalDelivery, err)).Msg("publish active status")
	}
}

func (s *Session) onAnswer(sig domain.Signal) {
	if s.role != domain.RoleInitiator {
		s.logger.Warn().Msg("responder got an answer, ignoring")
		return
	}
	err := s.neg.ApplyRemoteAnswer(sig.Data)
	if errors.Is(err, negotiator.ErrMalformed) {
		s.logger.Warn().Err(err).Msg("dropping answer")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("apply answer")
		if !s.answered {
			s.terminate(app.TriggerSetup, "", err)
		}
		return
	}
	s.answered = true
	s.stopAnswerTimer()
}

func (s *Session) onCallRecord(c domain.Call) {
	switch c.Status {
	case domain.StatusEnded, domain.StatusMissed, domain.StatusFailed:
		s.logger.Info().Str("status", string(c.Status)).Msg("call finished remotely")
		s.terminate(app.TriggerRemote, c.Status, nil)
	}
}

func (s *Session) onAnswerTimeout() {
	if s.role != domain.RoleInitiator || s.answered || s.reachedActive {
		return
	}
	s.logger.Info().Dur("after", s.cfg.AnswerTimeout).Msg("no answer")
	s.terminate(app.TriggerTimeout, "", nil)
}

func (s *Session) stopAnswerTimer() {
	if s.answerTimer != nil {
		s.answerTimer.Stop()
		s.answerTimer = nil
	}
}
