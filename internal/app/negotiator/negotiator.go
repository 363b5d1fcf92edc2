// Package negotiator owns the single peer connection of a call session and
// drives offer/answer exchange over opaque serialized payloads.
package negotiator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/peercall/internal/app/candidate"
	"github.com/dkeye/peercall/internal/app/stream"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var (
	ErrConnectionExists  = errors.New("connection already exists")
	ErrCameraUnavailable = errors.New("no camera to switch")
)

// Observer receives connection events. Calls arrive on pion goroutines.
//
// OnLocalCandidate fires zero or more times per negotiation round.
// OnRemoteTrack fires once per remote track, usually once per media kind.
// OnConnectivity fires on every state change.
type Observer interface {
	OnLocalCandidate(payload string)
	OnRemoteTrack(track core.RemoteTrack)
	OnConnectivity(state Connectivity)
}

type Options struct {
	Connector core.Connector
	Devices   core.DeviceMedia
	// Sinks receives every remote track; nil drains without recording.
	Sinks  stream.SinkFactory
	Logger zerolog.Logger
}

type Negotiator struct {
	connector core.Connector
	devices   core.DeviceMedia
	sinks     stream.SinkFactory
	base      zerolog.Logger
	logger    zerolog.Logger

	mu       sync.Mutex
	conn     core.MediaConnection
	local    core.MediaHandle
	remote   *stream.Remote
	queue    *candidate.Queue
	cancel   context.CancelFunc
	torndown bool

	restarted atomic.Bool
	// localUfrag tags outgoing candidates with the round they were gathered for.
	localUfrag atomic.Value
}

func New(opts Options) *Negotiator {
	return &Negotiator{
		connector: opts.Connector,
		devices:   opts.Devices,
		sinks:     opts.Sinks,
		base:      opts.Logger,
		logger:    opts.Logger.With().Str("module", "app.negotiator").Logger(),
	}
}

// AcquireLocalMedia asks for a microphone, and a camera for video calls.
// It must run before CreateConnection so tracks attach at construction.
func (n *Negotiator) AcquireLocalMedia(ctx context.Context, kind domain.CallKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.torndown {
		return core.Wrap(core.ErrMediaAcquisition, core.ErrNoConnection)
	}
	if n.local != nil {
		return nil
	}
	h, err := n.devices.Acquire(ctx, core.MediaConstraints{
		Audio:  true,
		Video:  kind == domain.CallVideo,
		Facing: core.FacingUser,
	})
	if err != nil {
		return core.Wrap(core.ErrMediaAcquisition, err)
	}
	n.local = h
	n.logger.Info().
		Int("audio", len(h.AudioTracks())).
		Int("video", len(h.VideoTracks())).
		Msg("local media acquired")
	return nil
}

// CreateConnection builds the peer connection, attaches local tracks and
// registers obs. The candidate queue starts empty.
func (n *Negotiator) CreateConnection(ctx context.Context, obs Observer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.torndown {
		return core.Wrap(core.ErrNegotiation, core.ErrNoConnection)
	}
	if n.conn != nil {
		return core.Wrap(core.ErrNegotiation, ErrConnectionExists)
	}

	conn, err := n.connector.NewConnection(ctx)
	if err != nil {
		return core.Wrap(core.ErrNegotiation, err)
	}

	trackCtx, cancel := context.WithCancel(context.Background())
	queue := candidate.NewQueue(conn, n.base)
	queue.Reset()
	remote := stream.NewRemote(n.sinks, n.base)

	conn.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			n.logger.Debug().Msg("local gathering complete")
			return
		}
		if c.UsernameFragment == nil || *c.UsernameFragment == "" {
			if ufrag, _ := n.localUfrag.Load().(string); ufrag != "" {
				c.UsernameFragment = &ufrag
			}
		}
		payload, err := EncodeCandidate(*c)
		if err != nil {
			n.logger.Error().Err(err).Msg("encode local candidate")
			return
		}
		obs.OnLocalCandidate(payload)
	})
	conn.OnTrack(func(t core.RemoteTrack) {
		if remote.Attach(trackCtx, t) {
			obs.OnRemoteTrack(t)
		}
	})
	conn.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		n.onICEState(obs, s)
	})

	if n.local != nil {
		for _, t := range slices.Concat(n.local.AudioTracks(), n.local.VideoTracks()) {
			if err := conn.AddLocalTrack(t.Local()); err != nil {
				cancel()
				_ = conn.Close()
				return core.Wrap(core.ErrNegotiation, err)
			}
		}
	}

	n.conn = conn
	n.queue = queue
	n.remote = remote
	n.cancel = cancel
	n.logger.Info().Msg("connection created")
	return nil
}

func (n *Negotiator) onICEState(obs Observer, s webrtc.ICEConnectionState) {
	c := fromICE(s)
	n.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	if c == ConnFailed && n.restarted.CompareAndSwap(false, true) {
		n.logger.Warn().Msg("connectivity failed, restarting ICE once")
		obs.OnConnectivity(ConnRestarting)
		return
	}
	obs.OnConnectivity(c)
}

// CreateLocalOffer sets and returns a serialized local offer.
func (n *Negotiator) CreateLocalOffer() (string, error) {
	return n.offer(false)
}

// RestartOffer sets and returns an ICE-restart offer. Candidates from the
// answering side are held back again until its answer arrives. The answering
// side holds candidates of the new round until this offer is applied, since
// they carry the new ufrag.
func (n *Negotiator) RestartOffer() (string, error) {
	return n.offer(true)
}

func (n *Negotiator) offer(restart bool) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return "", core.Wrap(core.ErrNegotiation, core.ErrNoConnection)
	}
	offer, err := n.conn.CreateOffer(restart)
	if err != nil {
		return "", core.Wrap(core.ErrNegotiation, err)
	}
	n.localUfrag.Store(UsernameFragment(offer))
	if err := n.conn.SetLocalDescription(offer); err != nil {
		return "", core.Wrap(core.ErrNegotiation, err)
	}
	if restart {
		n.queue.Reset()
	}
	return EncodeDescription(offer)
}

// ApplyRemoteOfferAndAnswer is the responder path: remote offer in, local answer out.
func (n *Negotiator) ApplyRemoteOfferAndAnswer(serializedOffer string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return "", core.Wrap(core.ErrNegotiation, core.ErrNoConnection)
	}
	offer, err := DecodeDescription(serializedOffer, webrtc.SDPTypeOffer)
	if err != nil {
		return "", err
	}
	if err := n.conn.SetRemoteDescription(offer); err != nil {
		return "", core.Wrap(core.ErrNegotiation, err)
	}
	n.queue.MarkRemoteDescriptionReady(UsernameFragment(offer))

	answer, err := n.conn.CreateAnswer()
	if err != nil {
		return "", core.Wrap(core.ErrNegotiation, err)
	}
	n.localUfrag.Store(UsernameFragment(answer))
	if err := n.conn.SetLocalDescription(answer); err != nil {
		return "", core.Wrap(core.ErrNegotiation, err)
	}
	return EncodeDescription(answer)
}

// ApplyRemoteAnswer is the initiator path.
func (n *Negotiator) ApplyRemoteAnswer(serializedAnswer string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return core.Wrap(core.ErrNegotiation, core.ErrNoConnection)
	}
	answer, err := DecodeDescription(serializedAnswer, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := n.conn.SetRemoteDescription(answer); err != nil {
		return core.Wrap(core.ErrNegotiation, err)
	}
	n.queue.MarkRemoteDescriptionReady(UsernameFragment(answer))
	return nil
}

// AddRemoteCandidate applies or queues one serialized candidate.
func (n *Negotiator) AddRemoteCandidate(serialized string) error {
	c, err := DecodeCandidate(serialized)
	if err != nil {
		return err
	}
	n.mu.Lock()
	queue := n.queue
	n.mu.Unlock()
	if queue == nil {
		return core.Wrap(core.ErrCandidateApply, core.ErrNoConnection)
	}
	held, err := queue.EnqueueOrApply(c)
	if held {
		n.logger.Debug().Int("pending", queue.Pending()).Msg("remote candidate held for its round")
	}
	return err
}

func (n *Negotiator) SetAudioEnabled(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.local == nil {
		return
	}
	for _, t := range n.local.AudioTracks() {
		t.SetEnabled(on)
	}
}

func (n *Negotiator) SetVideoEnabled(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.local == nil {
		return
	}
	for _, t := range n.local.VideoTracks() {
		t.SetEnabled(on)
	}
}

// FlipCamera switches to the next camera facing and swaps the sender's track.
func (n *Negotiator) FlipCamera(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.local == nil || !n.local.CanFlipCamera() || len(n.local.VideoTracks()) == 0 {
		return ErrCameraUnavailable
	}
	old := n.local.VideoTracks()[0]
	next, err := n.local.FlipCamera(ctx)
	if err != nil {
		return core.Wrap(core.ErrMediaAcquisition, err)
	}
	if n.conn == nil {
		return nil
	}
	if err := n.conn.ReplaceLocalTrack(old.ID(), next.Local()); err != nil {
		return core.Wrap(core.ErrNegotiation, err)
	}
	n.logger.Info().Str("from", old.ID()).Str("to", next.ID()).Msg("camera switched")
	return nil
}

// RemoteStats reports per-track counters of the remote stream.
func (n *Negotiator) RemoteStats() []stream.TrackStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.remote == nil {
		return nil
	}
	return n.remote.Stats()
}

// Teardown stops local tracks, releases the remote stream and closes the
// connection. Only the first call does anything; it reports whether it did.
func (n *Negotiator) Teardown() bool {
	n.mu.Lock()
	if n.torndown {
		n.mu.Unlock()
		return false
	}
	n.torndown = true
	conn, local, remote, queue, cancel := n.conn, n.local, n.remote, n.queue, n.cancel
	n.conn, n.local, n.queue = nil, nil, nil
	n.mu.Unlock()

	if local != nil {
		local.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if remote != nil {
		remote.Release()
	}
	if queue != nil {
		queue.Reset()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			n.logger.Error().Err(err).Msg("close connection")
		}
	}
	n.logger.Info().Msg("torn down")
	return true
}
