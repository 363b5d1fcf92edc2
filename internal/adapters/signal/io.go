package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "adapters.signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "adapters.signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, p *peer) {
	defer func() {
		log.Info().Str("module", "adapters.signal").Str("user", string(p.user)).Msg("readPump closing")
		p.dropAll()
		p.conn.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 2
	p.conn.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = p.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.conn.SetPongHandler(func(string) error {
		return p.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.signal").Str("user", string(p.user)).Msg("readPump ctx done")
			return
		default:
			_, data, err := p.conn.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "adapters.signal").Str("user", string(p.user)).Msg("readPump read error")
				}
				return
			}
			_ = p.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(p, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(p *peer, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("bad json")
		ctl.sendError(p, "", "bad_payload")
		return
	}
	if !p.limiter.Allow() {
		ctl.sendError(p, env.ReqID, "rate_limited")
		return
	}

	switch env.Type {
	case typeCreateCall:
		ctl.handleCreateCall(p, env)
	case typeGetCall:
		ctl.handleGetCall(p, env)
	case typeSubscribeSignals:
		ctl.handleSubscribeSignals(p, env)
	case typeSubscribeCall:
		ctl.handleSubscribeCall(p, env)
	case typeUnsubscribe:
		ctl.handleUnsubscribe(p, env)
	case typeSignal:
		ctl.handlePostSignal(p, env)
	case typeStatus:
		ctl.handleStatus(p, env)
	case typeEnd:
		ctl.handleEnd(p, env)
	case typeMessage:
		ctl.handleMessage(p, env)
	case typeWhoAmI:
		ctl.handleWhoAmI(p, env)
	case typePing:
		ctl.handlePing(p, env)
	default:
		log.Warn().Str("module", "adapters.signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(p, env.ReqID, "unknown_type")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "adapters.signal").Msg("sendJSON")
	}
}

func (ctl *SignalWSController) sendError(p *peer, reqID, msg string) {
	ctl.sendJSON(p.conn, envelope{Type: typeError, ReqID: reqID, Error: msg})
}

func (ctl *SignalWSController) ack(p *peer, reqID string) {
	if reqID != "" {
		ctl.sendJSON(p.conn, envelope{Type: typeAck, ReqID: reqID})
	}
}
