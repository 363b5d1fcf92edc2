package negotiator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/core"
)

var (
	// ErrMalformed marks a payload that could not be decoded. Nothing reached
	// the connection.
	ErrMalformed = errors.New("malformed payload")

	errEmptyCandidate = errors.New("empty candidate")
	errNoMedia        = errors.New("description has no media sections")
)

// EncodeDescription serializes a description as {"type","sdp"} JSON.
func EncodeDescription(d webrtc.SessionDescription) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", core.Wrap(core.ErrNegotiation, err)
	}
	return string(b), nil
}

// DecodeDescription parses and validates a serialized description of type want.
func DecodeDescription(raw string, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var d webrtc.SessionDescription
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return d, malformed(core.ErrNegotiation, fmt.Errorf("description: %w", err))
	}
	if d.Type != want {
		return d, malformed(core.ErrNegotiation, fmt.Errorf("description type %s, want %s", d.Type, want))
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(d.SDP)); err != nil {
		return d, malformed(core.ErrNegotiation, fmt.Errorf("sdp: %w", err))
	}
	if len(parsed.MediaDescriptions) == 0 {
		return d, malformed(core.ErrNegotiation, errNoMedia)
	}
	return d, nil
}

// UsernameFragment returns the ICE ufrag a description carries, session level
// first, then the first media section that has one. Empty when absent.
func UsernameFragment(d webrtc.SessionDescription) string {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(d.SDP)); err != nil {
		return ""
	}
	if v, ok := parsed.Attribute("ice-ufrag"); ok {
		return v
	}
	for _, m := range parsed.MediaDescriptions {
		if v, ok := m.Attribute("ice-ufrag"); ok {
			return v
		}
	}
	return ""
}

func malformed(kind, err error) error {
	return core.Wrap(kind, fmt.Errorf("%w: %w", ErrMalformed, err))
}

// EncodeCandidate serializes a candidate as ICECandidateInit JSON.
func EncodeCandidate(c webrtc.ICECandidateInit) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", core.Wrap(core.ErrCandidateApply, err)
	}
	return string(b), nil
}

func DecodeCandidate(raw string) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return c, malformed(core.ErrCandidateApply, fmt.Errorf("candidate: %w", err))
	}
	if c.Candidate == "" {
		return c, malformed(core.ErrCandidateApply, errEmptyCandidate)
	}
	return c, nil
}
