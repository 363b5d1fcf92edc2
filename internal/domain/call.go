package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownStatus = errors.New("unknown call status")
	ErrUnknownKind   = errors.New("unknown call kind")
	ErrUnknownRole   = errors.New("unknown call role")
)

type CallID string

func NewCallID() CallID {
	return CallID(uuid.NewString())
}

type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

func ParseCallKind(s string) (CallKind, error) {
	switch k := CallKind(s); k {
	case CallAudio, CallVideo:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleInitiator, RoleResponder:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

type CallStatus string

const (
	StatusRinging    CallStatus = "ringing"
	StatusConnecting CallStatus = "connecting"
	StatusActive     CallStatus = "active"
	StatusEnded      CallStatus = "ended"
	StatusMissed     CallStatus = "missed"
	StatusFailed     CallStatus = "failed"
)

func ParseCallStatus(s string) (CallStatus, error) {
	switch st := CallStatus(s); st {
	case StatusRinging, StatusConnecting, StatusActive, StatusEnded, StatusMissed, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Terminal reports whether no further transition is expected.
func (s CallStatus) Terminal() bool {
	return s == StatusEnded || s == StatusMissed || s == StatusFailed
}

// Call is the status record kept by the backing store.
type Call struct {
	ID        CallID     `json:"id"`
	Initiator UserID     `json:"initiator"`
	Callee    UserID     `json:"callee"`
	Kind      CallKind   `json:"kind"`
	Status    CallStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RoleOf returns the role uid plays in the call.
func (c Call) RoleOf(uid UserID) (Role, bool) {
	switch uid {
	case c.Initiator:
		return RoleInitiator, true
	case c.Callee:
		return RoleResponder, true
	}
	return "", false
}
