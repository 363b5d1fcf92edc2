package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

type MediaConstraints struct {
	Audio  bool
	Video  bool
	Facing Facing
}

// DeviceMedia is the local capture collaborator.
type DeviceMedia interface {
	Acquire(ctx context.Context, c MediaConstraints) (MediaHandle, error)
}

// MediaHandle owns the captured tracks until Stop.
type MediaHandle interface {
	AudioTracks() []LocalTrack
	VideoTracks() []LocalTrack
	// CanFlipCamera reports whether more than one camera facing exists.
	CanFlipCamera() bool
	// FlipCamera stops the current video track and returns its replacement.
	FlipCamera(ctx context.Context) (LocalTrack, error)
	Stop()
}

type LocalTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	SetEnabled(bool)
	Stop()
	Local() webrtc.TrackLocal
}
