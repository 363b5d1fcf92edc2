package signal

import "github.com/dkeye/peercall/internal/domain"

// Envelope types, client to server.
const (
	typeCreateCall       = "create_call"
	typeGetCall          = "get_call"
	typeSubscribeSignals = "subscribe_signals"
	typeSubscribeCall    = "subscribe_call"
	typeUnsubscribe      = "unsubscribe"
	typeSignal           = "signal"
	typeStatus           = "status"
	typeEnd              = "end"
	typeMessage          = "message"
	typeWhoAmI           = "whoami"
	typePing             = "ping"
)

// Envelope types, server to client. "signal", "whoami" are shared.
const (
	typeCallCreated = "call_created"
	typeCall        = "call"
	typeAck         = "ack"
	typeError       = "error"
	typePong        = "pong"
)

const (
	topicSignals = "signals"
	topicCall    = "call"
)

// envelope is the single JSON frame shape in both directions. ReqID, when set
// by the client, is echoed on the reply (ack, error, call, call_created).
type envelope struct {
	Type   string            `json:"type"`
	ReqID  string            `json:"req_id,omitempty"`
	CallID domain.CallID     `json:"call_id,omitempty"`
	Callee domain.UserID     `json:"callee,omitempty"`
	Kind   domain.CallKind   `json:"kind,omitempty"`
	Topic  string            `json:"topic,omitempty"`
	Status domain.CallStatus `json:"status,omitempty"`
	Text   string            `json:"text,omitempty"`
	User   domain.UserID     `json:"user,omitempty"`
	Error  string            `json:"error,omitempty"`
	Signal *domain.Signal    `json:"signal,omitempty"`
	Call   *domain.Call      `json:"call,omitempty"`
}
