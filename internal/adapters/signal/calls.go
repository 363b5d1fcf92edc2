package signal

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/app/hub"
	"github.com/dkeye/peercall/internal/domain"
)

// errorCode maps hub and domain errors onto the wire.
func errorCode(err error) string {
	switch {
	case errors.Is(err, hub.ErrCallNotFound):
		return "call_not_found"
	case errors.Is(err, hub.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, hub.ErrCallFinished):
		return "call_finished"
	case errors.Is(err, hub.ErrInvalidSignal):
		return "invalid_signal"
	case errors.Is(err, hub.ErrSameParty):
		return "same_party"
	}
	return err.Error()
}

func (ctl *SignalWSController) handleCreateCall(p *peer, env envelope) {
	if !ctl.calls.Allow(p.user) {
		ctl.sendError(p, env.ReqID, "rate_limited")
		return
	}
	call, err := ctl.Hub.CreateCall(p.user, env.Callee, env.Kind)
	if err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	log.Info().
		Str("module", "adapters.signal").
		Str("call_id", string(call.ID)).
		Str("initiator", string(p.user)).
		Str("callee", string(env.Callee)).
		Msg("call created")
	ctl.sendJSON(p.conn, envelope{Type: typeCallCreated, ReqID: env.ReqID, CallID: call.ID, Call: &call})
}

func (ctl *SignalWSController) handleGetCall(p *peer, env envelope) {
	call, err := ctl.participantCall(p, env.CallID)
	if err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	ctl.sendJSON(p.conn, envelope{Type: typeCall, ReqID: env.ReqID, CallID: call.ID, Call: &call})
}

func (ctl *SignalWSController) participantCall(p *peer, id domain.CallID) (domain.Call, error) {
	call, err := ctl.Hub.Call(id)
	if err != nil {
		return domain.Call{}, err
	}
	if _, ok := call.RoleOf(p.user); !ok {
		return domain.Call{}, hub.ErrNotParticipant
	}
	return call, nil
}

func (ctl *SignalWSController) handleStatus(p *peer, env envelope) {
	if _, err := ctl.participantCall(p, env.CallID); err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	if _, err := ctl.Hub.UpdateStatus(env.CallID, env.Status); err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	ctl.ack(p, env.ReqID)
}

func (ctl *SignalWSController) handleEnd(p *peer, env envelope) {
	if _, err := ctl.participantCall(p, env.CallID); err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	if _, err := ctl.Hub.EndCall(env.CallID); err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	log.Info().Str("module", "adapters.signal").Str("call_id", string(env.CallID)).Str("user", string(p.user)).Msg("call ended")
	ctl.ack(p, env.ReqID)
}

// handleMessage lets a party write a call-log entry on behalf of either party.
func (ctl *SignalWSController) handleMessage(p *peer, env envelope) {
	if _, err := ctl.participantCall(p, env.CallID); err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	author := env.User
	if author == "" {
		author = p.user
	}
	if _, err := ctl.Hub.AppendMessage(env.CallID, author, env.Text); err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	ctl.ack(p, env.ReqID)
}
