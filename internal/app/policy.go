package app

import (
	"time"

	"github.com/dkeye/peercall/internal/domain"
)

// Trigger is what ended a session.
type Trigger int

const (
	// TriggerUser is a local hang-up in any state.
	TriggerUser Trigger = iota
	// TriggerTimeout is the initiator giving up on an unanswered call.
	TriggerTimeout
	// TriggerRemote is a terminal status written by someone else.
	TriggerRemote
	// TriggerConnectivity is ICE failing again after its one restart.
	TriggerConnectivity
	// TriggerSetup is media or connection setup failing.
	TriggerSetup
	// TriggerDetach is the owner going away without an explicit end.
	TriggerDetach
)

func (t Trigger) String() string {
	switch t {
	case TriggerUser:
		return "user"
	case TriggerTimeout:
		return "timeout"
	case TriggerRemote:
		return "remote"
	case TriggerConnectivity:
		return "connectivity"
	case TriggerSetup:
		return "setup"
	case TriggerDetach:
		return "detach"
	}
	return "unknown"
}

type OutcomeInput struct {
	Role          domain.Role
	Kind          domain.CallKind
	Trigger       Trigger
	ReachedActive bool
	Duration      time.Duration
	// RemoteStatus is set for TriggerRemote.
	RemoteStatus domain.CallStatus
}

// Decision says what a terminating session writes and where it lands.
type Decision struct {
	// Write is the status to publish; empty means publish nothing.
	Write domain.CallStatus
	// Log reports whether this party writes the call-log entry.
	Log     bool
	Outcome domain.Outcome
	// Final is the local terminal state.
	Final domain.CallStatus
}

type Policy interface {
	Decide(OutcomeInput) Decision
}

// SimplePolicy lets the party that ends the call write status and log.
// Before the call is active, a hang-up by the initiator reads as cancelled
// and one by the responder as missed; neither side checks the other's view.
type SimplePolicy struct{}

func (SimplePolicy) Decide(in OutcomeInput) Decision {
	out := domain.Outcome{CallKind: in.Kind}
	switch in.Trigger {
	case TriggerRemote:
		final := in.RemoteStatus
		if !final.Terminal() {
			final = domain.StatusEnded
		}
		return Decision{Final: final}
	case TriggerDetach:
		return Decision{Final: domain.StatusEnded}
	case TriggerSetup:
		return Decision{Write: domain.StatusFailed, Final: domain.StatusFailed}
	case TriggerConnectivity:
		out.Kind = domain.OutcomeEnded
		return Decision{Write: domain.StatusFailed, Log: true, Outcome: out, Final: domain.StatusFailed}
	case TriggerTimeout:
		out.Kind = domain.OutcomeCancelled
		return Decision{Write: domain.StatusMissed, Log: true, Outcome: out, Final: domain.StatusEnded}
	}

	switch {
	case in.ReachedActive:
		out.Kind = domain.OutcomeCompleted
		out.Duration = in.Duration
	case in.Role == domain.RoleInitiator:
		out.Kind = domain.OutcomeCancelled
	default:
		out.Kind = domain.OutcomeMissed
	}
	return Decision{Write: domain.StatusEnded, Log: true, Outcome: out, Final: domain.StatusEnded}
}
