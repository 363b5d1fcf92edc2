package candidate

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/dkeye/peercall/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type recordingApplier struct {
	mu      sync.Mutex
	ready   *bool
	applied []string
	early   int
	fail    map[string]bool
}

func (a *recordingApplier) AddICECandidate(c webrtc.ICECandidateInit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready != nil && !*a.ready {
		a.early++
	}
	if a.fail[c.Candidate] {
		return errors.New("bad candidate")
	}
	a.applied = append(a.applied, c.Candidate)
	return nil
}

func cand(i int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.0.%d 5000 typ host", i, i)}
}

func TestQueueBuffersUntilReady(t *testing.T) {
	a := &recordingApplier{}
	q := NewQueue(a, zerolog.Nop())

	for i := range 3 {
		if _, err := q.EnqueueOrApply(cand(i)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if len(a.applied) != 0 {
		t.Fatalf("applied before ready: %v", a.applied)
	}
	if q.Pending() != 3 {
		t.Fatalf("pending = %d, want 3", q.Pending())
	}

	applied, skipped := q.MarkRemoteDescriptionReady("")
	if applied != 3 || skipped != 0 {
		t.Fatalf("flush = (%d, %d), want (3, 0)", applied, skipped)
	}
	if _, err := q.EnqueueOrApply(cand(3)); err != nil {
		t.Fatalf("apply after ready: %v", err)
	}
	for i, got := range a.applied {
		if want := cand(i).Candidate; got != want {
			t.Fatalf("applied[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestQueueSkipsBadCandidateOnFlush(t *testing.T) {
	a := &recordingApplier{fail: map[string]bool{cand(1).Candidate: true}}
	q := NewQueue(a, zerolog.Nop())
	for i := range 3 {
		_, _ = q.EnqueueOrApply(cand(i))
	}

	applied, skipped := q.MarkRemoteDescriptionReady("")
	if applied != 2 || skipped != 1 {
		t.Fatalf("flush = (%d, %d), want (2, 1)", applied, skipped)
	}
	if len(a.applied) != 2 || a.applied[0] != cand(0).Candidate || a.applied[1] != cand(2).Candidate {
		t.Fatalf("applied = %v", a.applied)
	}
	if q.Pending() != 0 {
		t.Fatalf("buffer not drained")
	}
}

func TestQueueApplyErrorIsTagged(t *testing.T) {
	a := &recordingApplier{fail: map[string]bool{cand(7).Candidate: true}}
	q := NewQueue(a, zerolog.Nop())
	q.MarkRemoteDescriptionReady("")

	_, err := q.EnqueueOrApply(cand(7))
	if !errors.Is(err, core.ErrCandidateApply) {
		t.Fatalf("err = %v, want ErrCandidateApply", err)
	}
}

func TestQueueReset(t *testing.T) {
	a := &recordingApplier{}
	q := NewQueue(a, zerolog.Nop())
	_, _ = q.EnqueueOrApply(cand(0))
	q.MarkRemoteDescriptionReady("")
	_, _ = q.EnqueueOrApply(cand(1))

	q.Reset()
	if held, _ := q.EnqueueOrApply(cand(2)); !held {
		t.Fatalf("ready survived reset")
	}
	if len(a.applied) != 2 {
		t.Fatalf("candidate applied after reset: %v", a.applied)
	}

	q.Reset()
	q.MarkRemoteDescriptionReady("")
	if len(a.applied) != 2 {
		t.Fatalf("stale candidate crossed reset: %v", a.applied)
	}
}

func TestQueuePreservesOrderUnderInterleaving(t *testing.T) {
	for seed := int64(1); seed <= 50; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			ready := false
			a := &recordingApplier{ready: &ready}
			q := NewQueue(a, zerolog.Nop())

			const n = 20
			readyAt := rng.Intn(n + 1)
			for i := range n {
				if i == readyAt {
					ready = true
					q.MarkRemoteDescriptionReady("")
				}
				_, _ = q.EnqueueOrApply(cand(i))
			}
			if readyAt == n {
				ready = true
				q.MarkRemoteDescriptionReady("")
			}

			if a.early != 0 {
				t.Fatalf("%d candidates applied before remote description", a.early)
			}
			if len(a.applied) != n {
				t.Fatalf("applied %d, want %d", len(a.applied), n)
			}
			for i, got := range a.applied {
				if got != cand(i).Candidate {
					t.Fatalf("order broken at %d: %q", i, got)
				}
			}
		})
	}
}

func TestQueueConcurrentArrivalsKeepPerSenderOrder(t *testing.T) {
	a := &recordingApplier{}
	q := NewQueue(a, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 100 {
			_, _ = q.EnqueueOrApply(cand(i))
		}
	}()
	q.MarkRemoteDescriptionReady("")
	wg.Wait()
	q.MarkRemoteDescriptionReady("")

	if len(a.applied) != 100 {
		t.Fatalf("applied %d, want 100", len(a.applied))
	}
	for i, got := range a.applied {
		if got != cand(i).Candidate {
			t.Fatalf("order broken at %d", i)
		}
	}
}

func tagged(i int, ufrag string) webrtc.ICECandidateInit {
	c := cand(i)
	c.UsernameFragment = &ufrag
	return c
}

func TestQueueHoldsNextRoundUntilItsDescription(t *testing.T) {
	a := &recordingApplier{}
	q := NewQueue(a, zerolog.Nop())

	_, _ = q.EnqueueOrApply(tagged(0, "one"))
	q.MarkRemoteDescriptionReady("one")

	held, err := q.EnqueueOrApply(tagged(1, "two"))
	if err != nil || !held {
		t.Fatalf("next-round candidate: held=%v err=%v", held, err)
	}
	if held, _ := q.EnqueueOrApply(tagged(2, "one")); held {
		t.Fatalf("current-round candidate held")
	}
	if held, _ := q.EnqueueOrApply(cand(3)); held {
		t.Fatalf("untagged candidate held")
	}
	if len(a.applied) != 3 || a.applied[1] != cand(2).Candidate || a.applied[2] != cand(3).Candidate {
		t.Fatalf("applied = %v", a.applied)
	}

	applied, skipped := q.MarkRemoteDescriptionReady("two")
	if applied != 1 || skipped != 0 {
		t.Fatalf("flush = (%d, %d), want (1, 0)", applied, skipped)
	}
	if a.applied[3] != cand(1).Candidate || q.Pending() != 0 {
		t.Fatalf("next-round candidate not flushed: %v pending=%d", a.applied, q.Pending())
	}
}

func TestQueueKeepsOtherRoundOnFlush(t *testing.T) {
	a := &recordingApplier{}
	q := NewQueue(a, zerolog.Nop())

	_, _ = q.EnqueueOrApply(tagged(0, "old"))
	_, _ = q.EnqueueOrApply(tagged(1, "new"))
	applied, _ := q.MarkRemoteDescriptionReady("new")
	if applied != 1 || a.applied[0] != cand(1).Candidate {
		t.Fatalf("applied = %v", a.applied)
	}
	if q.Pending() != 1 {
		t.Fatalf("pending = %d, want the old-round candidate kept", q.Pending())
	}
}
