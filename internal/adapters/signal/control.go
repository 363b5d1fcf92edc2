package signal

func (ctl *SignalWSController) handlePing(p *peer, env envelope) {
	ctl.sendJSON(p.conn, envelope{Type: typePong, ReqID: env.ReqID})
}

func (ctl *SignalWSController) handleWhoAmI(p *peer, env envelope) {
	ctl.sendJSON(p.conn, envelope{Type: typeWhoAmI, ReqID: env.ReqID, User: p.user})
}
