package signal

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"golang.org/x/time/rate"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/hub"
	"github.com/dkeye/peercall/internal/app/negotiator/negotiatortest"
	"github.com/dkeye/peercall/internal/app/orch"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

func newTestServer(t *testing.T, opts ServerOptions) (*hub.Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := hub.New()
	ctx, cancel := context.WithCancel(context.Background())
	ctl := NewSignalWSController(ctx, h, opts)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, user domain.UserID) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, user)
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(c.Close)
	return c
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func remoteCode(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

func TestCreateCallAndIdentity(t *testing.T) {
	_, url := newTestServer(t, ServerOptions{})
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	mallory := dial(t, url, "mallory")
	ctx := ctxT(t)

	if who, err := alice.WhoAmI(ctx); err != nil || who != "alice" {
		t.Fatalf("whoami = %q, %v", who, err)
	}

	call, err := alice.CreateCall(ctx, "bob", domain.CallVideo)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if call.Initiator != "alice" || call.Callee != "bob" || call.Status != domain.StatusRinging {
		t.Fatalf("call = %+v", call)
	}
	if got, err := bob.GetCall(ctx, call.ID); err != nil || got.ID != call.ID {
		t.Fatalf("bob get = %+v, %v", got, err)
	}

	_, err = mallory.GetCall(ctx, call.ID)
	if !errors.Is(err, core.ErrSignalDelivery) || remoteCode(err) != "not_participant" {
		t.Fatalf("mallory get err = %v", err)
	}
	if _, err := alice.CreateCall(ctx, "alice", domain.CallAudio); remoteCode(err) != "same_party" {
		t.Fatalf("self call err = %v", err)
	}
}

func TestSignalsStampedWithConnectionUser(t *testing.T) {
	_, url := newTestServer(t, ServerOptions{})
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	ctx := ctxT(t)

	call, err := alice.CreateCall(ctx, "bob", domain.CallAudio)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got := make(chan domain.Signal, 4)
	dispose, err := bob.SubscribeToSignals(ctx, call.ID, func(s domain.Signal) { got <- s })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer dispose()

	if err := alice.WriteSignal(ctx, call.ID, "bob", domain.SignalOffer, "payload"); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case s := <-got:
		if s.SenderID != "alice" || s.Type != domain.SignalOffer || s.Data != "payload" || s.Seq == 0 {
			t.Fatalf("signal = %+v", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("signal not delivered")
	}

	if err := alice.WriteSignal(ctx, call.ID, "alice", "telepathy", "x"); remoteCode(err) != "invalid_signal" {
		t.Fatalf("bad type err = %v", err)
	}
}

func TestSubscribeReplaysHistory(t *testing.T) {
	_, url := newTestServer(t, ServerOptions{})
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	ctx := ctxT(t)

	call, _ := alice.CreateCall(ctx, "bob", domain.CallAudio)
	for _, d := range []string{"one", "two", "three"} {
		if err := alice.WriteSignal(ctx, call.ID, "alice", domain.SignalCandidate, d); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen []string
	)
	if _, err := bob.SubscribeToSignals(ctx, call.ID, func(s domain.Signal) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Data)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// the ack is queued behind the replay, so history is in by now
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(seen, ",") != "one,two,three" {
		t.Fatalf("replay = %v", seen)
	}
}

func TestCallSubscriptionAndEnd(t *testing.T) {
	h, url := newTestServer(t, ServerOptions{})
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	ctx := ctxT(t)

	call, _ := alice.CreateCall(ctx, "bob", domain.CallVideo)
	records := make(chan domain.Call, 4)
	if _, err := alice.SubscribeToCall(ctx, call.ID, func(c domain.Call) { records <- c }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	next := func() domain.Call {
		t.Helper()
		select {
		case c := <-records:
			return c
		case <-time.After(3 * time.Second):
			t.Fatal("no call record")
		}
		return domain.Call{}
	}
	if c := next(); c.Status != domain.StatusRinging {
		t.Fatalf("first record = %s", c.Status)
	}

	if err := bob.EndCall(ctx, call.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if c := next(); c.Status != domain.StatusEnded {
		t.Fatalf("record after end = %s", c.Status)
	}
	if err := bob.UpdateCallStatus(ctx, call.ID, domain.StatusActive); remoteCode(err) != "call_finished" {
		t.Fatalf("status after end err = %v", err)
	}

	if err := bob.Record(ctx, call.ID, "alice", "Video call · missed"); err != nil {
		t.Fatalf("record: %v", err)
	}
	msgs, _ := h.Messages(call.ID)
	if len(msgs) != 1 || msgs[0].Author != "alice" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestClosedClientReportsDeliveryError(t *testing.T) {
	_, url := newTestServer(t, ServerOptions{})
	alice := dial(t, url, "alice")
	ctx := ctxT(t)
	call, _ := alice.CreateCall(ctx, "bob", domain.CallAudio)

	alice.Close()
	<-alice.Done()
	if err := alice.WriteSignal(ctx, call.ID, "alice", domain.SignalOffer, "x"); !errors.Is(err, core.ErrSignalDelivery) {
		t.Fatalf("write after close err = %v", err)
	}
}

func TestInboundRateLimit(t *testing.T) {
	_, url := newTestServer(t, ServerOptions{SignalRate: 0.01, SignalBurst: 2})
	alice := dial(t, url, "alice")
	ctx := ctxT(t)

	var limited bool
	for range 5 {
		if err := alice.Ping(ctx); remoteCode(err) == "rate_limited" {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("no frame was rate limited")
	}
}

func TestUserRateLimiter(t *testing.T) {
	rl := NewUserRateLimiter(0, 2)
	if !rl.Allow("alice") || !rl.Allow("alice") {
		t.Fatal("burst denied")
	}
	if rl.Allow("alice") {
		t.Fatal("limit not enforced")
	}
	if !rl.Allow("bob") {
		t.Fatal("limits shared across users")
	}
}

func TestUserRateLimiterPrunesRefilledBuckets(t *testing.T) {
	rl := NewUserRateLimiter(rate.Every(time.Hour), 1)
	if !rl.Allow("alice") {
		t.Fatal("first call denied")
	}

	if n := rl.Prune(time.Now()); n != 0 {
		t.Fatalf("pruned %d drained buckets", n)
	}
	if rl.Allow("alice") {
		t.Fatal("drained bucket forgotten")
	}
	if n := rl.Prune(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("pruned %d, want the refilled bucket", n)
	}
	if !rl.Allow("alice") {
		t.Fatal("fresh bucket denied")
	}
}

func TestOrchestratedCallOverWebSocket(t *testing.T) {
	h, url := newTestServer(t, ServerOptions{})
	aliceC := dial(t, url, "alice")
	bobC := dial(t, url, "bob")
	ctx := ctxT(t)

	call, err := aliceC.CreateCall(ctx, "bob", domain.CallAudio)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newOrch := func(c *Client) (*orch.Orchestrator, *negotiatortest.Connector) {
		conns := &negotiatortest.Connector{}
		return &orch.Orchestrator{
			Registry:  app.NewRegistry(),
			Transport: c,
			CallLog:   c,
			Connector: conns,
			Devices:   &negotiatortest.Devices{},
			Config:    orch.Config{TickInterval: 10 * time.Millisecond},
		}, conns
	}
	ao, aconns := newOrch(aliceC)
	bo, bconns := newOrch(bobC)

	a, err := ao.Start(context.Background(), orch.StartRequest{Call: call, Self: "alice"})
	if err != nil {
		t.Fatalf("alice start: %v", err)
	}
	b, err := bo.Start(context.Background(), orch.StartRequest{Call: call, Self: "bob"})
	if err != nil {
		t.Fatalf("bob start: %v", err)
	}

	eventually(t, "hub active", func() bool {
		c, _ := h.Call(call.ID)
		return c.Status == domain.StatusActive
	})
	eventually(t, "answer applied", func() bool {
		return aconns.Last() != nil && aconns.Last().HasRemoteDescription()
	})
	aconns.Last().EmitTrack(negotiatortest.NewRemoteTrack("b", webrtc.RTPCodecTypeAudio))
	bconns.Last().EmitTrack(negotiatortest.NewRemoteTrack("a", webrtc.RTPCodecTypeAudio))
	eventually(t, "alice active", func() bool { return a.Snapshot().Status == domain.StatusActive })

	a.End()
	ra, err := a.Wait(ctx)
	if err != nil {
		t.Fatalf("alice wait: %v", err)
	}
	rb, err := b.Wait(ctx)
	if err != nil {
		t.Fatalf("bob wait: %v", err)
	}
	if ra.Trigger != app.TriggerUser || !ra.Logged || rb.Trigger != app.TriggerRemote {
		t.Fatalf("results: alice %+v bob %+v", ra, rb)
	}
	msgs, _ := h.Messages(call.ID)
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].Text, "Voice call · ") {
		t.Fatalf("messages = %+v", msgs)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
