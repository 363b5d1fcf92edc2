// Package candidate buffers remote ICE candidates until the connection can take them.
package candidate

import (
	"sync"

	"github.com/dkeye/peercall/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Applier is the connection side of the queue.
type Applier interface {
	AddICECandidate(webrtc.ICECandidateInit) error
}

// Queue holds candidates that arrive before the remote description of their
// negotiation round and replays them in arrival order once it is set. A
// candidate tagged with a username fragment belongs to the round whose remote
// description carries that ufrag; an untagged one belongs to whatever round is
// in force. Candidates are never reordered within a round: while a flush runs,
// new arrivals wait for it.
type Queue struct {
	mu      sync.Mutex
	applier Applier
	pending []webrtc.ICECandidateInit
	ready   bool
	ufrag   string
	logger  zerolog.Logger
}

// NewQueue returns an empty queue that applies through a.
func NewQueue(a Applier, logger zerolog.Logger) *Queue {
	return &Queue{
		applier: a,
		logger:  logger.With().Str("module", "app.candidate").Logger(),
	}
}

// EnqueueOrApply applies c right away when the remote description of its round
// is known, otherwise buffers it. It reports whether c was held. The returned
// error wraps core.ErrCandidateApply.
func (q *Queue) EnqueueOrApply(c webrtc.ICECandidateInit) (held bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.ready || !q.inRound(c) {
		q.pending = append(q.pending, c)
		q.logger.Debug().Int("pending", len(q.pending)).Str("ufrag", ufragOf(c)).Msg("candidate queued")
		return true, nil
	}
	if err := q.applier.AddICECandidate(c); err != nil {
		return false, core.Wrap(core.ErrCandidateApply, err)
	}
	return false, nil
}

// MarkRemoteDescriptionReady records the ufrag of the remote description just
// applied and flushes the buffered candidates of that round FIFO. Candidates of
// another round stay buffered. A candidate that fails is logged and skipped.
func (q *Queue) MarkRemoteDescriptionReady(ufrag string) (applied, skipped int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ready = true
	q.ufrag = ufrag
	var other []webrtc.ICECandidateInit
	for i, c := range q.pending {
		if !q.inRound(c) {
			other = append(other, c)
			continue
		}
		if err := q.applier.AddICECandidate(c); err != nil {
			skipped++
			q.logger.Warn().Err(err).Int("index", i).Str("candidate", c.Candidate).Msg("skip queued candidate")
			continue
		}
		applied++
	}
	q.pending = other
	if applied+skipped > 0 || len(other) > 0 {
		q.logger.Info().
			Int("applied", applied).
			Int("skipped", skipped).
			Int("held", len(other)).
			Str("ufrag", ufrag).
			Msg("flushed queued candidates")
	}
	return applied, skipped
}

// Reset drops buffered candidates and forgets the remote description.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.ready = false
	q.ufrag = ""
}

// Pending reports how many candidates are buffered.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) inRound(c webrtc.ICECandidateInit) bool {
	tag := ufragOf(c)
	return tag == "" || q.ufrag == "" || tag == q.ufrag
}

func ufragOf(c webrtc.ICECandidateInit) string {
	if c.UsernameFragment == nil {
		return ""
	}
	return *c.UsernameFragment
}
