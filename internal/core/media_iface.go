package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// MediaConnection is the single peer connection a negotiator drives.
type MediaConnection interface {
	// CreateOffer builds an offer; iceRestart forces fresh ICE credentials.
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches a local track before negotiation.
	AddLocalTrack(webrtc.TrackLocal) error
	// ReplaceLocalTrack swaps the track behind an existing sender without renegotiation.
	ReplaceLocalTrack(oldID string, next webrtc.TrackLocal) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	// A nil argument marks the end of gathering.
	OnICECandidate(func(*webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	OnICEConnectionStateChange(func(webrtc.ICEConnectionState))
	Close() error
}

// Connector creates media connections with the configured ICE servers.
type Connector interface {
	NewConnection(ctx context.Context) (MediaConnection, error)
}

// RemoteTrack is the part of *webrtc.TrackRemote the app reads from.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}
