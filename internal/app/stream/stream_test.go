package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/peercall/internal/core"
)

type fakeTrack struct {
	id      string
	packets chan *rtp.Packet
}

func newFakeTrack(id string) *fakeTrack {
	return &fakeTrack{id: id, packets: make(chan *rtp.Packet, 16)}
}

func (f *fakeTrack) ID() string                { return f.id }
func (f *fakeTrack) StreamID() string          { return "remote" }
func (f *fakeTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (f *fakeTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}}
}

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-f.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

type memSink struct {
	mu      sync.Mutex
	got     []uint16
	closed  int
	failAt  int
	written int
}

func (s *memSink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written++
	if s.failAt > 0 && s.written >= s.failAt {
		return errors.New("disk full")
	}
	s.got = append(s.got, p.SequenceNumber)
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func waitRemote(t *testing.T, r *Remote) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("readers did not exit: %v", err)
	}
}

func TestRemoteForwardsToSinkAndReleases(t *testing.T) {
	sink := &memSink{}
	r := NewRemote(func(core.RemoteTrack) (Sink, error) { return sink, nil }, zerolog.Nop())
	tr := newFakeTrack("a1")

	if !r.Attach(context.Background(), tr) {
		t.Fatalf("attach refused")
	}
	if r.Attach(context.Background(), tr) {
		t.Fatalf("duplicate attach accepted")
	}

	for i := range 3 {
		tr.packets <- &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}, Payload: []byte{1, 2}}
	}
	r.Release()
	r.Release()
	close(tr.packets)
	waitRemote(t, r)

	if sink.closed != 1 {
		t.Fatalf("sink closed %d times, want 1", sink.closed)
	}
	stats := r.Stats()
	if len(stats) != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	// Release may win the race against queued packets; whatever was read was forwarded in order.
	for i, seq := range sink.got {
		if seq != uint16(i) {
			t.Fatalf("sink order broken: %v", sink.got)
		}
	}
	if stats[0].Packets != uint64(len(sink.got)) {
		t.Fatalf("packets = %d, forwarded = %d", stats[0].Packets, len(sink.got))
	}
	if !r.Released() {
		t.Fatalf("not released")
	}
	if r.Attach(context.Background(), newFakeTrack("v1")) {
		t.Fatalf("attach after release accepted")
	}
}

func TestRemoteDropsFailingSink(t *testing.T) {
	sink := &memSink{failAt: 2}
	r := NewRemote(func(core.RemoteTrack) (Sink, error) { return sink, nil }, zerolog.Nop())
	tr := newFakeTrack("a1")
	r.Attach(context.Background(), tr)

	for i := range 4 {
		tr.packets <- &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}}
	}
	close(tr.packets)
	waitRemote(t, r)

	if sink.written != 2 {
		t.Fatalf("sink written %d times after failure, want 2", sink.written)
	}
	if sink.closed != 1 {
		t.Fatalf("sink closed %d times, want 1", sink.closed)
	}
	if got := r.Stats()[0].Packets; got != 4 {
		t.Fatalf("packets = %d, want 4", got)
	}
}

func TestRemoteWithoutSinks(t *testing.T) {
	r := NewRemote(nil, zerolog.Nop())
	tr := newFakeTrack("a1")
	r.Attach(context.Background(), tr)
	tr.packets <- &rtp.Packet{Payload: []byte{1, 2, 3}}
	close(tr.packets)
	waitRemote(t, r)

	if got := r.Stats()[0].Bytes; got != 3 {
		t.Fatalf("bytes = %d, want 3", got)
	}
}

func TestStateTransitions(t *testing.T) {
	var s State
	if s.Get() != TrackLive {
		t.Fatalf("zero state = %v", s.Get())
	}
	s.SetEnabled(false)
	if s.Get() != TrackMuted {
		t.Fatalf("after disable = %v", s.Get())
	}
	s.SetEnabled(true)
	if s.Get() != TrackLive {
		t.Fatalf("after enable = %v", s.Get())
	}
	if !s.Stop() {
		t.Fatalf("first stop reported false")
	}
	if s.Stop() {
		t.Fatalf("second stop reported true")
	}
	s.SetEnabled(true)
	if s.Get() != TrackStopped {
		t.Fatalf("stopped track revived: %v", s.Get())
	}
}
