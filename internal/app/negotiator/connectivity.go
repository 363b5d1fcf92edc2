package negotiator

import "github.com/pion/webrtc/v4"

// Connectivity is the observed ICE state plus the restart the negotiator
// inserts between the first failure and the terminal one.
type Connectivity int

const (
	ConnNew Connectivity = iota
	ConnChecking
	ConnConnected
	ConnCompleted
	ConnDisconnected
	ConnRestarting
	ConnFailed
	ConnClosed
)

func (c Connectivity) String() string {
	switch c {
	case ConnNew:
		return "new"
	case ConnChecking:
		return "checking"
	case ConnConnected:
		return "connected"
	case ConnCompleted:
		return "completed"
	case ConnDisconnected:
		return "disconnected"
	case ConnRestarting:
		return "restarting"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// Up reports a usable media path.
func (c Connectivity) Up() bool {
	return c == ConnConnected || c == ConnCompleted
}

func fromICE(s webrtc.ICEConnectionState) Connectivity {
	switch s {
	case webrtc.ICEConnectionStateChecking:
		return ConnChecking
	case webrtc.ICEConnectionStateConnected:
		return ConnConnected
	case webrtc.ICEConnectionStateCompleted:
		return ConnCompleted
	case webrtc.ICEConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.ICEConnectionStateFailed:
		return ConnFailed
	case webrtc.ICEConnectionStateClosed:
		return ConnClosed
	default:
		return ConnNew
	}
}
