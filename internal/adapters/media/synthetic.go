// Package media provides device capture without hardware and RTP recording.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/app/stream"
	"github.com/dkeye/peercall/internal/core"
)

const streamID = "peercall"

var (
	// Opus TOC for a 20ms CELT silence frame.
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	// 16x16 VP8 key frame header; enough for recorders and depacketizers.
	vp8KeyFrame = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00, 0x00, 0x00}

	ErrNoDevice = errors.New("no such capture device")
)

// Synthetic is a core.DeviceMedia that produces silence and a blank picture.
// Each configured facing acts as one camera.
type Synthetic struct {
	facings []core.Facing
	seq     atomic.Uint64
	logger  zerolog.Logger
}

var _ core.DeviceMedia = (*Synthetic)(nil)

func NewSynthetic(facings ...core.Facing) *Synthetic {
	if len(facings) == 0 {
		facings = []core.Facing{core.FacingUser}
	}
	return &Synthetic{
		facings: facings,
		logger:  log.With().Str("module", "adapters.media").Logger(),
	}
}

func (s *Synthetic) Acquire(ctx context.Context, c core.MediaConstraints) (core.MediaHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := &handle{owner: s}
	if c.Audio {
		t, err := s.newTrack(webrtc.MimeTypeOpus, "microphone", opusSilence, 20*time.Millisecond)
		if err != nil {
			return nil, err
		}
		h.audio = append(h.audio, t)
	}
	if c.Video {
		idx := 0
		if c.Facing != "" {
			idx = indexOf(s.facings, c.Facing)
			if idx < 0 {
				h.Stop()
				return nil, fmt.Errorf("%w: camera facing %s", ErrNoDevice, c.Facing)
			}
		}
		t, err := s.camera(idx)
		if err != nil {
			h.Stop()
			return nil, err
		}
		h.facing = idx
		h.video = append(h.video, t)
	}
	s.logger.Info().Int("audio", len(h.audio)).Int("video", len(h.video)).Msg("capture started")
	return h, nil
}

func (s *Synthetic) camera(idx int) (*track, error) {
	return s.newTrack(webrtc.MimeTypeVP8, "camera-"+string(s.facings[idx]), vp8KeyFrame, 33*time.Millisecond)
}

func (s *Synthetic) newTrack(mime, name string, frame []byte, every time.Duration) (*track, error) {
	id := fmt.Sprintf("%s-%d", name, s.seq.Add(1))
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &track{
		local:  local,
		frame:  frame,
		every:  every,
		done:   make(chan struct{}),
		logger: s.logger.With().Str("track_id", id).Logger(),
	}
	go t.pump()
	return t, nil
}

func indexOf(fs []core.Facing, f core.Facing) int {
	for i, x := range fs {
		if x == f {
			return i
		}
	}
	return -1
}

type handle struct {
	owner *Synthetic

	mu     sync.Mutex
	audio  []*track
	video  []*track
	facing int
}

func (h *handle) AudioTracks() []core.LocalTrack {
	h.mu.Lock()
	defer h.mu.Unlock()
	return asLocal(h.audio)
}

func (h *handle) VideoTracks() []core.LocalTrack {
	h.mu.Lock()
	defer h.mu.Unlock()
	return asLocal(h.video)
}

func (h *handle) CanFlipCamera() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.video) > 0 && len(h.owner.facings) > 1
}

func (h *handle) FlipCamera(ctx context.Context) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.video) == 0 || len(h.owner.facings) < 2 {
		return nil, ErrNoDevice
	}
	next := (h.facing + 1) % len(h.owner.facings)
	t, err := h.owner.camera(next)
	if err != nil {
		return nil, err
	}
	// the new camera inherits the enabled flag
	t.SetEnabled(h.video[0].Enabled())
	h.video[0].Stop()
	h.video[0] = t
	h.facing = next
	return t, nil
}

func (h *handle) Stop() {
	h.mu.Lock()
	tracks := append(append([]*track(nil), h.audio...), h.video...)
	h.mu.Unlock()
	for _, t := range tracks {
		t.Stop()
	}
}

func asLocal(ts []*track) []core.LocalTrack {
	out := make([]core.LocalTrack, len(ts))
	for i, t := range ts {
		out[i] = t
	}
	return out
}

// track writes one frame per interval while live.
type track struct {
	local *webrtc.TrackLocalStaticSample
	frame []byte
	every time.Duration
	state stream.State

	once   sync.Once
	done   chan struct{}
	logger zerolog.Logger
}

func (t *track) ID() string                { return t.local.ID() }
func (t *track) Kind() webrtc.RTPCodecType { return t.local.Kind() }
func (t *track) Enabled() bool             { return t.state.Get() == stream.TrackLive }
func (t *track) SetEnabled(on bool)        { t.state.SetEnabled(on) }
func (t *track) Local() webrtc.TrackLocal  { return t.local }

func (t *track) Stop() {
	if t.state.Stop() {
		t.once.Do(func() { close(t.done) })
	}
}

func (t *track) pump() {
	ticker := time.NewTicker(t.every)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if t.state.Get() != stream.TrackLive {
				continue
			}
			if err := t.local.WriteSample(media.Sample{Data: t.frame, Duration: t.every}); err != nil {
				t.logger.Debug().Err(err).Msg("write sample")
			}
		}
	}
}
