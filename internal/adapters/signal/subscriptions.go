package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/domain"
)

func (ctl *SignalWSController) handleSubscribeSignals(p *peer, env envelope) {
	if _, err := ctl.participantCall(p, env.CallID); err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	id := env.CallID
	dispose, err := ctl.Hub.SubscribeSignals(id, func(sig domain.Signal) {
		ctl.sendJSON(p.conn, envelope{Type: typeSignal, CallID: id, Signal: &sig})
	})
	if err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	p.addSub(subKey(topicSignals, id), dispose)
	log.Debug().Str("module", "adapters.signal").Str("call_id", string(id)).Str("user", string(p.user)).Msg("subscribed to signals")
	ctl.ack(p, env.ReqID)
}

func (ctl *SignalWSController) handleSubscribeCall(p *peer, env envelope) {
	if _, err := ctl.participantCall(p, env.CallID); err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	id := env.CallID
	dispose, err := ctl.Hub.SubscribeCall(id, func(c domain.Call) {
		ctl.sendJSON(p.conn, envelope{Type: typeCall, CallID: id, Call: &c})
	})
	if err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	p.addSub(subKey(topicCall, id), dispose)
	ctl.ack(p, env.ReqID)
}

func (ctl *SignalWSController) handleUnsubscribe(p *peer, env envelope) {
	if !p.dropSub(subKey(env.Topic, env.CallID)) {
		ctl.sendError(p, env.ReqID, "not_subscribed")
		return
	}
	ctl.ack(p, env.ReqID)
}

// handlePostSignal stamps the sender from the connection, never from the frame.
func (ctl *SignalWSController) handlePostSignal(p *peer, env envelope) {
	if env.Signal == nil {
		ctl.sendError(p, env.ReqID, "bad_payload")
		return
	}
	if _, err := ctl.Hub.PostSignal(env.CallID, p.user, env.Signal.Type, env.Signal.Data); err != nil {
		ctl.sendError(p, env.ReqID, errorCode(err))
		return
	}
	ctl.ack(p, env.ReqID)
}
