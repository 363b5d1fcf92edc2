// Package negotiatortest provides in-memory doubles for the connection and
// device-media contracts, the way httptest does for net/http.
package negotiatortest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/core"
)

// OfferSDP and AnswerSDP are minimal audio descriptions pion/sdp accepts.
const (
	OfferSDP = "v=0\r\n" +
		"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=ice-ufrag:offr\r\n" +
		"a=ice-pwd:offerpasswordofferpassword\r\n" +
		"a=mid:0\r\n" +
		"a=sendrecv\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n"
	AnswerSDP = "v=0\r\n" +
		"o=- 7826214578146542150 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=ice-ufrag:answ\r\n" +
		"a=ice-pwd:answerpasswordanswerpassword\r\n" +
		"a=mid:0\r\n" +
		"a=sendrecv\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n"
)

var ErrNoRemoteDescription = errors.New("remote description not set")

// Candidate builds a distinct host candidate.
func Candidate(i int) webrtc.ICECandidateInit {
	mid := "0"
	idx := uint16(0)
	return webrtc.ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.%d.%d 50000 typ host", i+1, i/250, i%250+1),
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

// Conn records everything the negotiator does to it.
type Conn struct {
	mu sync.Mutex

	Locals   []webrtc.SessionDescription
	Remote   *webrtc.SessionDescription
	Applied  []string
	Early    int
	Tracks   []webrtc.TrackLocal
	Replaced []string
	Restarts int
	Closed   int

	FailRemote     error
	FailCandidates map[string]bool

	onCandidate func(*webrtc.ICECandidateInit)
	onTrack     func(core.RemoteTrack)
	onState     func(webrtc.ICEConnectionState)
	remotes     []*RemoteTrack
}

func (c *Conn) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if iceRestart {
		c.Restarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: OfferSDP}, nil
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Remote == nil {
		return webrtc.SessionDescription{}, ErrNoRemoteDescription
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: AnswerSDP}, nil
}

func (c *Conn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Locals = append(c.Locals, d)
	return nil
}

func (c *Conn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailRemote != nil {
		return c.FailRemote
	}
	c.Remote = &d
	return nil
}

// HasRemoteDescription reports whether a remote description was applied.
func (c *Conn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Remote != nil
}

func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Remote == nil {
		c.Early++
		return ErrNoRemoteDescription
	}
	if c.FailCandidates[ci.Candidate] {
		return errors.New("unparseable candidate")
	}
	c.Applied = append(c.Applied, ci.Candidate)
	return nil
}

func (c *Conn) AddLocalTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Tracks = append(c.Tracks, t)
	return nil
}

func (c *Conn) ReplaceLocalTrack(oldID string, _ webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Replaced = append(c.Replaced, oldID)
	return nil
}

func (c *Conn) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *Conn) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Conn) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.Closed++
	first := c.Closed == 1
	remotes := c.remotes
	c.mu.Unlock()
	if first {
		for _, r := range remotes {
			r.Close()
		}
	}
	return nil
}

// EmitCandidate plays a locally gathered candidate; nil ends gathering.
func (c *Conn) EmitCandidate(ci *webrtc.ICECandidateInit) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil {
		fn(ci)
	}
}

func (c *Conn) EmitTrack(t *RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.remotes = append(c.remotes, t)
	c.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (c *Conn) EmitState(s webrtc.ICEConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Snapshot returns copies of the recorded slices.
func (c *Conn) Snapshot() (applied []string, early, closed, restarts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Applied...), c.Early, c.Closed, c.Restarts
}

// LocalCount reports how many local descriptions were set.
func (c *Conn) LocalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Locals)
}

// Connector hands out a fresh Conn per call.
type Connector struct {
	mu    sync.Mutex
	Conns []*Conn
	Err   error
}

func (f *Connector) NewConnection(context.Context) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := &Conn{}
	f.Conns = append(f.Conns, c)
	return c, nil
}

// Last returns the most recent connection, or nil.
func (f *Connector) Last() *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Conns) == 0 {
		return nil
	}
	return f.Conns[len(f.Conns)-1]
}

// RemoteTrack blocks in ReadRTP until a packet is pushed or it is closed.
type RemoteTrack struct {
	TrackID string
	Type    webrtc.RTPCodecType

	once    sync.Once
	packets chan *rtp.Packet
}

func NewRemoteTrack(id string, kind webrtc.RTPCodecType) *RemoteTrack {
	return &RemoteTrack{TrackID: id, Type: kind, packets: make(chan *rtp.Packet, 64)}
}

func (t *RemoteTrack) ID() string                { return t.TrackID }
func (t *RemoteTrack) StreamID() string          { return "remote-stream" }
func (t *RemoteTrack) Kind() webrtc.RTPCodecType { return t.Type }
func (t *RemoteTrack) Codec() webrtc.RTPCodecParameters {
	mime := webrtc.MimeTypeOpus
	if t.Type == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: mime}}
}

func (t *RemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-t.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

func (t *RemoteTrack) Push(p *rtp.Packet) { t.packets <- p }

func (t *RemoteTrack) Close() { t.once.Do(func() { close(t.packets) }) }

// Devices hands out Handles, or Err when capture is refused.
type Devices struct {
	mu      sync.Mutex
	Err     error
	Facings int
	Handles []*Handle
}

func (d *Devices) Acquire(_ context.Context, c core.MediaConstraints) (core.MediaHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	h := &Handle{facings: max(d.Facings, 1)}
	if c.Audio {
		h.audio = append(h.audio, newTrack("mic", webrtc.RTPCodecTypeAudio))
	}
	if c.Video {
		h.video = append(h.video, newTrack("cam-0", webrtc.RTPCodecTypeVideo))
	}
	d.Handles = append(d.Handles, h)
	return h, nil
}

// Last returns the most recent handle, or nil.
func (d *Devices) Last() *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Handles) == 0 {
		return nil
	}
	return d.Handles[len(d.Handles)-1]
}

type Handle struct {
	mu      sync.Mutex
	audio   []core.LocalTrack
	video   []core.LocalTrack
	facings int
	flips   int
	stopped atomic.Int32
}

func (h *Handle) AudioTracks() []core.LocalTrack {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.LocalTrack(nil), h.audio...)
}

func (h *Handle) VideoTracks() []core.LocalTrack {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.LocalTrack(nil), h.video...)
}

func (h *Handle) CanFlipCamera() bool { return h.facings > 1 }

func (h *Handle) FlipCamera(context.Context) (core.LocalTrack, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.video) == 0 {
		return nil, errors.New("no video")
	}
	h.video[0].Stop()
	h.flips++
	next := newTrack(fmt.Sprintf("cam-%d", h.flips), webrtc.RTPCodecTypeVideo)
	h.video[0] = next
	return next, nil
}

func (h *Handle) Stop() {
	h.stopped.Add(1)
	for _, t := range append(h.AudioTracks(), h.VideoTracks()...) {
		t.Stop()
	}
}

// Stops reports how many times Stop ran.
func (h *Handle) Stops() int { return int(h.stopped.Load()) }

type Track struct {
	id      string
	kind    webrtc.RTPCodecType
	enabled atomic.Bool
	stopped atomic.Bool
}

func newTrack(id string, kind webrtc.RTPCodecType) *Track {
	t := &Track{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string                { return t.id }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) Enabled() bool             { return t.enabled.Load() }
func (t *Track) SetEnabled(on bool)        { t.enabled.Store(on) }
func (t *Track) Stop()                     { t.stopped.Store(true) }
func (t *Track) Stopped() bool             { return t.stopped.Load() }
func (t *Track) Local() webrtc.TrackLocal  { return nil }
