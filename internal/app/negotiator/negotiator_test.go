package negotiator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/peercall/internal/app/negotiator"
	"github.com/dkeye/peercall/internal/app/negotiator/negotiatortest"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

type recorder struct {
	mu         sync.Mutex
	candidates []string
	tracks     []string
	states     []negotiator.Connectivity
}

func (r *recorder) OnLocalCandidate(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, p)
}

func (r *recorder) OnRemoteTrack(t core.RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, t.ID())
}

func (r *recorder) OnConnectivity(s negotiator.Connectivity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) statesSnapshot() []negotiator.Connectivity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]negotiator.Connectivity(nil), r.states...)
}

type fixture struct {
	n       *negotiator.Negotiator
	conns   *negotiatortest.Connector
	devices *negotiatortest.Devices
	obs     *recorder
}

func newFixture(t *testing.T, kind domain.CallKind) *fixture {
	t.Helper()
	f := &fixture{
		conns:   &negotiatortest.Connector{},
		devices: &negotiatortest.Devices{Facings: 2},
		obs:     &recorder{},
	}
	f.n = negotiator.New(negotiator.Options{
		Connector: f.conns,
		Devices:   f.devices,
		Logger:    zerolog.Nop(),
	})
	ctx := context.Background()
	if err := f.n.AcquireLocalMedia(ctx, kind); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := f.n.CreateConnection(ctx, f.obs); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	t.Cleanup(func() { f.n.Teardown() })
	return f
}

func encodeCandidate(t *testing.T, i int) string {
	t.Helper()
	p, err := negotiator.EncodeCandidate(negotiatortest.Candidate(i))
	if err != nil {
		t.Fatalf("encode candidate: %v", err)
	}
	return p
}

func encodeOffer(t *testing.T) string {
	t.Helper()
	p, err := negotiator.EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: negotiatortest.OfferSDP})
	if err != nil {
		t.Fatalf("encode offer: %v", err)
	}
	return p
}

func TestResponderFlushesEarlyCandidatesInOrder(t *testing.T) {
	f := newFixture(t, domain.CallAudio)
	conn := f.conns.Last()

	for i := range 2 {
		if err := f.n.AddRemoteCandidate(encodeCandidate(t, i)); err != nil {
			t.Fatalf("early candidate %d: %v", i, err)
		}
	}
	if applied, early, _, _ := conn.Snapshot(); len(applied) != 0 || early != 0 {
		t.Fatalf("candidate reached connection before offer: applied=%v early=%d", applied, early)
	}

	answer, err := f.n.ApplyRemoteOfferAndAnswer(encodeOffer(t))
	if err != nil {
		t.Fatalf("apply offer: %v", err)
	}
	if _, err := negotiator.DecodeDescription(answer, webrtc.SDPTypeAnswer); err != nil {
		t.Fatalf("answer does not decode: %v", err)
	}

	if err := f.n.AddRemoteCandidate(encodeCandidate(t, 2)); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	applied, early, _, _ := conn.Snapshot()
	if early != 0 {
		t.Fatalf("%d candidates applied without remote description", early)
	}
	want := []string{
		negotiatortest.Candidate(0).Candidate,
		negotiatortest.Candidate(1).Candidate,
		negotiatortest.Candidate(2).Candidate,
	}
	if len(applied) != len(want) {
		t.Fatalf("applied = %v", applied)
	}
	for i := range want {
		if applied[i] != want[i] {
			t.Fatalf("applied[%d] = %q, want %q", i, applied[i], want[i])
		}
	}
}

func TestInitiatorOfferAnswer(t *testing.T) {
	f := newFixture(t, domain.CallVideo)
	conn := f.conns.Last()

	offer, err := f.n.CreateLocalOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := negotiator.DecodeDescription(offer, webrtc.SDPTypeOffer); err != nil {
		t.Fatalf("offer does not decode: %v", err)
	}
	if len(conn.Tracks) != 2 {
		t.Fatalf("local tracks attached = %d, want 2", len(conn.Tracks))
	}

	_ = f.n.AddRemoteCandidate(encodeCandidate(t, 0))
	answer, _ := negotiator.EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: negotiatortest.AnswerSDP})
	if err := f.n.ApplyRemoteAnswer(answer); err != nil {
		t.Fatalf("apply answer: %v", err)
	}
	if applied, _, _, _ := conn.Snapshot(); len(applied) != 1 {
		t.Fatalf("queued candidate not flushed: %v", applied)
	}
}

func TestLocalCandidatesReachObserver(t *testing.T) {
	f := newFixture(t, domain.CallAudio)
	conn := f.conns.Last()

	c := negotiatortest.Candidate(3)
	conn.EmitCandidate(&c)
	conn.EmitCandidate(nil)

	if len(f.obs.candidates) != 1 {
		t.Fatalf("observer got %d candidates, want 1", len(f.obs.candidates))
	}
	got, err := negotiator.DecodeCandidate(f.obs.candidates[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Candidate != c.Candidate || got.SDPMid == nil || *got.SDPMid != "0" {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestNegotiationErrors(t *testing.T) {
	tests := []struct {
		name string
		run  func(n *negotiator.Negotiator) error
		want error
	}{
		{
			name: "offer without connection",
			run: func(n *negotiator.Negotiator) error {
				_, err := n.CreateLocalOffer()
				return err
			},
			want: core.ErrNoConnection,
		},
		{
			name: "answer without connection",
			run: func(n *negotiator.Negotiator) error {
				return n.ApplyRemoteAnswer(`{"type":"answer","sdp":""}`)
			},
			want: core.ErrNegotiation,
		},
		{
			name: "candidate without connection",
			run: func(n *negotiator.Negotiator) error {
				return n.AddRemoteCandidate(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 1 typ host"}`)
			},
			want: core.ErrCandidateApply,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := negotiator.New(negotiator.Options{
				Connector: &negotiatortest.Connector{},
				Devices:   &negotiatortest.Devices{},
				Logger:    zerolog.Nop(),
			})
			if err := tt.run(n); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMalformedPayloads(t *testing.T) {
	f := newFixture(t, domain.CallAudio)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"offer not json", func() error { _, err := f.n.ApplyRemoteOfferAndAnswer("{"); return err }, core.ErrNegotiation},
		{"offer wrong type", func() error {
			p, _ := negotiator.EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: negotiatortest.AnswerSDP})
			_, err := f.n.ApplyRemoteOfferAndAnswer(p)
			return err
		}, core.ErrNegotiation},
		{"offer bad sdp", func() error {
			_, err := f.n.ApplyRemoteOfferAndAnswer(`{"type":"offer","sdp":"not sdp"}`)
			return err
		}, core.ErrNegotiation},
		{"answer not json", func() error { return f.n.ApplyRemoteAnswer("[]") }, core.ErrNegotiation},
		{"candidate not json", func() error { return f.n.AddRemoteCandidate("nope") }, core.ErrCandidateApply},
		{"candidate empty", func() error { return f.n.AddRemoteCandidate(`{"candidate":""}`) }, core.ErrCandidateApply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, negotiator.ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}

	if f.conns.Last().HasRemoteDescription() {
		t.Fatalf("malformed payload reached the connection")
	}
}

func TestMediaAcquisitionFailure(t *testing.T) {
	n := negotiator.New(negotiator.Options{
		Connector: &negotiatortest.Connector{},
		Devices:   &negotiatortest.Devices{Err: errors.New("permission denied")},
		Logger:    zerolog.Nop(),
	})
	err := n.AcquireLocalMedia(context.Background(), domain.CallVideo)
	if !errors.Is(err, core.ErrMediaAcquisition) {
		t.Fatalf("err = %v, want ErrMediaAcquisition", err)
	}
}

func TestConnectionCreateFailure(t *testing.T) {
	n := negotiator.New(negotiator.Options{
		Connector: &negotiatortest.Connector{Err: errors.New("no ice servers")},
		Devices:   &negotiatortest.Devices{},
		Logger:    zerolog.Nop(),
	})
	err := n.CreateConnection(context.Background(), &recorder{})
	if !errors.Is(err, core.ErrNegotiation) {
		t.Fatalf("err = %v, want ErrNegotiation", err)
	}
}

func TestSecondConnectionRefused(t *testing.T) {
	f := newFixture(t, domain.CallAudio)
	err := f.n.CreateConnection(context.Background(), f.obs)
	if !errors.Is(err, negotiator.ErrConnectionExists) {
		t.Fatalf("err = %v, want ErrConnectionExists", err)
	}
	if len(f.conns.Conns) != 1 {
		t.Fatalf("connections = %d, want 1", len(f.conns.Conns))
	}
}

func TestExactlyOneRestart(t *testing.T) {
	f := newFixture(t, domain.CallAudio)
	conn := f.conns.Last()

	conn.EmitState(webrtc.ICEConnectionStateChecking)
	conn.EmitState(webrtc.ICEConnectionStateConnected)
	conn.EmitState(webrtc.ICEConnectionStateFailed)
	if _, err := f.n.RestartOffer(); err != nil {
		t.Fatalf("restart offer: %v", err)
	}
	conn.EmitState(webrtc.ICEConnectionStateChecking)
	conn.EmitState(webrtc.ICEConnectionStateFailed)
	conn.EmitState(webrtc.ICEConnectionStateFailed)

	want := []negotiator.Connectivity{
		negotiator.ConnChecking,
		negotiator.ConnConnected,
		negotiator.ConnRestarting,
		negotiator.ConnChecking,
		negotiator.ConnFailed,
		negotiator.ConnFailed,
	}
	got := f.obs.statesSnapshot()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if _, _, _, restarts := conn.Snapshot(); restarts != 1 {
		t.Fatalf("restart offers = %d, want 1", restarts)
	}
}

func TestRestartOfferHoldsCandidatesUntilAnswer(t *testing.T) {
	f := newFixture(t, domain.CallAudio)
	conn := f.conns.Last()

	if _, err := f.n.CreateLocalOffer(); err != nil {
		t.Fatalf("offer: %v", err)
	}
	answer, _ := negotiator.EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: negotiatortest.AnswerSDP})
	_ = f.n.ApplyRemoteAnswer(answer)

	if _, err := f.n.RestartOffer(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = f.n.AddRemoteCandidate(encodeCandidate(t, 9))
	if applied, _, _, _ := conn.Snapshot(); len(applied) != 0 {
		t.Fatalf("new-round candidate applied before restart answer: %v", applied)
	}
	_ = f.n.ApplyRemoteAnswer(answer)
	if applied, _, _, _ := conn.Snapshot(); len(applied) != 1 {
		t.Fatalf("candidate not flushed after restart answer: %v", applied)
	}
}

func taggedCandidate(t *testing.T, i int, ufrag string) (string, string) {
	t.Helper()
	c := negotiatortest.Candidate(i)
	c.UsernameFragment = &ufrag
	p, err := negotiator.EncodeCandidate(c)
	if err != nil {
		t.Fatalf("encode candidate: %v", err)
	}
	return p, c.Candidate
}

func TestResponderHoldsRestartCandidatesUntilRestartOffer(t *testing.T) {
	f := newFixture(t, domain.CallAudio)
	conn := f.conns.Last()

	if _, err := f.n.ApplyRemoteOfferAndAnswer(encodeOffer(t)); err != nil {
		t.Fatalf("apply offer: %v", err)
	}

	next, nextRaw := taggedCandidate(t, 5, "rstr")
	if err := f.n.AddRemoteCandidate(next); err != nil {
		t.Fatalf("next-round candidate: %v", err)
	}
	if applied, _, _, _ := conn.Snapshot(); len(applied) != 0 {
		t.Fatalf("next-round candidate applied against the old description: %v", applied)
	}

	old, oldRaw := taggedCandidate(t, 6, "offr")
	if err := f.n.AddRemoteCandidate(old); err != nil {
		t.Fatalf("current-round candidate: %v", err)
	}
	if applied, _, _, _ := conn.Snapshot(); len(applied) != 1 || applied[0] != oldRaw {
		t.Fatalf("current-round candidate not applied: %v", applied)
	}

	restart, err := negotiator.EncodeDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  strings.Replace(negotiatortest.OfferSDP, "a=ice-ufrag:offr", "a=ice-ufrag:rstr", 1),
	})
	if err != nil {
		t.Fatalf("encode restart offer: %v", err)
	}
	if _, err := f.n.ApplyRemoteOfferAndAnswer(restart); err != nil {
		t.Fatalf("apply restart offer: %v", err)
	}
	applied, early, _, _ := conn.Snapshot()
	if len(applied) != 2 || applied[1] != nextRaw || early != 0 {
		t.Fatalf("after restart offer: applied=%v early=%d", applied, early)
	}
}

func TestLocalCandidatesCarryRoundUfrag(t *testing.T) {
	f := newFixture(t, domain.CallAudio)
	conn := f.conns.Last()

	if _, err := f.n.CreateLocalOffer(); err != nil {
		t.Fatalf("offer: %v", err)
	}
	c := negotiatortest.Candidate(1)
	conn.EmitCandidate(&c)

	if len(f.obs.candidates) != 1 {
		t.Fatalf("observer got %d candidates, want 1", len(f.obs.candidates))
	}
	got, err := negotiator.DecodeCandidate(f.obs.candidates[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UsernameFragment == nil || *got.UsernameFragment != "offr" {
		t.Fatalf("candidate ufrag = %v, want offr", got.UsernameFragment)
	}
}

func TestRemoteTrackDeliveredOnce(t *testing.T) {
	f := newFixture(t, domain.CallVideo)
	conn := f.conns.Last()

	tr := negotiatortest.NewRemoteTrack("a0", webrtc.RTPCodecTypeAudio)
	conn.EmitTrack(tr)
	conn.EmitTrack(tr)
	conn.EmitTrack(negotiatortest.NewRemoteTrack("v0", webrtc.RTPCodecTypeVideo))

	if len(f.obs.tracks) != 2 {
		t.Fatalf("observer tracks = %v, want 2 distinct", f.obs.tracks)
	}
	if len(f.n.RemoteStats()) != 2 {
		t.Fatalf("remote stats = %v", f.n.RemoteStats())
	}
}

func TestTeardownIdempotentUnderConcurrency(t *testing.T) {
	f := newFixture(t, domain.CallVideo)
	conn := f.conns.Last()
	conn.EmitTrack(negotiatortest.NewRemoteTrack("a0", webrtc.RTPCodecTypeAudio))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.n.Teardown() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("teardown ran %d times, want 1", wins)
	}
	if _, _, closed, _ := conn.Snapshot(); closed != 1 {
		t.Fatalf("connection closed %d times, want 1", closed)
	}
	if stops := f.devices.Last().Stops(); stops != 1 {
		t.Fatalf("local media stopped %d times, want 1", stops)
	}
	if _, err := f.n.CreateLocalOffer(); !errors.Is(err, core.ErrNoConnection) {
		t.Fatalf("offer after teardown: %v", err)
	}
}

func TestMediaControls(t *testing.T) {
	f := newFixture(t, domain.CallVideo)
	h := f.devices.Last()

	f.n.SetAudioEnabled(false)
	if h.AudioTracks()[0].Enabled() {
		t.Fatalf("mic still enabled")
	}
	f.n.SetVideoEnabled(false)
	if h.VideoTracks()[0].Enabled() {
		t.Fatalf("camera still enabled")
	}
	f.n.SetAudioEnabled(true)
	if !h.AudioTracks()[0].Enabled() {
		t.Fatalf("mic not re-enabled")
	}

	old := h.VideoTracks()[0]
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.n.FlipCamera(ctx); err != nil {
		t.Fatalf("flip: %v", err)
	}
	conn := f.conns.Last()
	if len(conn.Replaced) != 1 || conn.Replaced[0] != old.ID() {
		t.Fatalf("replaced = %v, want [%s]", conn.Replaced, old.ID())
	}
	if !old.(*negotiatortest.Track).Stopped() {
		t.Fatalf("previous camera track still running")
	}
}

func TestFlipCameraWithoutSecondFacing(t *testing.T) {
	n := negotiator.New(negotiator.Options{
		Connector: &negotiatortest.Connector{},
		Devices:   &negotiatortest.Devices{Facings: 1},
		Logger:    zerolog.Nop(),
	})
	_ = n.AcquireLocalMedia(context.Background(), domain.CallVideo)
	if err := n.FlipCamera(context.Background()); !errors.Is(err, negotiator.ErrCameraUnavailable) {
		t.Fatalf("err = %v, want ErrCameraUnavailable", err)
	}
}
