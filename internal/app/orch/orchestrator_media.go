package orch

import (
	"errors"
	"time"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/negotiator"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var errRestartTimeout = errors.New("ICE restart timed out")

// observer moves negotiator callbacks off pion goroutines onto the session loop.
type observer struct{ s *Session }

func (o observer) OnLocalCandidate(payload string) {
	o.s.mb.put(func() { o.s.send(domain.SignalCandidate, payload) })
}

func (o observer) OnRemoteTrack(t core.RemoteTrack) {
	o.s.mb.put(func() { o.s.onRemoteTrack(t) })
}

func (o observer) OnConnectivity(c negotiator.Connectivity) {
	o.s.mb.put(func() { o.s.onConnectivity(c) })
}

func (s *Session) onRemoteTrack(t core.RemoteTrack) {
	s.logger.Info().Str("track_id", t.ID()).Str("kind", t.Kind().String()).Msg("remote track")
	if s.reachedActive {
		return
	}
	s.reachedActive = true
	s.stopAnswerTimer()
	s.ticker = time.NewTicker(s.cfg.TickInterval)
	s.setStatus(domain.StatusActive)
}

func (s *Session) onConnectivity(c negotiator.Connectivity) {
	s.connectivity = c
	switch {
	case c == negotiator.ConnRestarting:
		if s.role == domain.RoleInitiator {
			offer, err := s.neg.RestartOffer()
			if err != nil {
				s.logger.Error().Err(err).Msg("restart offer")
			} else {
				s.send(domain.SignalOffer, offer)
			}
		}
		if s.restartTimer == nil {
			s.restartTimer = time.AfterFunc(s.cfg.RestartTimeout, func() {
				s.mb.put(s.onRestartTimeout)
			})
		}
	case c == negotiator.ConnFailed:
		s.terminate(app.TriggerConnectivity, "", core.ErrConnectivity)
		return
	case c.Up():
		s.stopRestartTimer()
	}
	s.notify(nil)
}

func (s *Session) onRestartTimeout() {
	if s.connectivity.Up() {
		return
	}
	s.terminate(app.TriggerConnectivity, "", core.Wrap(core.ErrConnectivity, errRestartTimeout))
}

func (s *Session) stopRestartTimer() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}
