package stream

import "sync/atomic"

type TrackState int32

const (
	TrackLive TrackState = iota
	TrackMuted
	TrackStopped
)

func (s TrackState) String() string {
	switch s {
	case TrackLive:
		return "live"
	case TrackMuted:
		return "muted"
	case TrackStopped:
		return "stopped"
	}
	return "unknown"
}

// State is the enable/stop flag shared between a local track and its sample pump.
// Stopped is terminal.
type State struct {
	v atomic.Int32 // Zero by default (TrackLive)
}

func (s *State) Get() TrackState {
	return TrackState(s.v.Load())
}

// SetEnabled toggles between live and muted. It never revives a stopped track.
func (s *State) SetEnabled(on bool) {
	next := TrackMuted
	if on {
		next = TrackLive
	}
	for {
		cur := s.v.Load()
		if TrackState(cur) == TrackStopped {
			return
		}
		if s.v.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

// Stop reports whether this call performed the transition.
func (s *State) Stop() bool {
	return TrackState(s.v.Swap(int32(TrackStopped))) != TrackStopped
}
