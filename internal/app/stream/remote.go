// Package stream holds per-session media state: the remote stream the session
// owns once tracks arrive, and the enable/stop flag local tracks share with
// their sample pumps.
package stream

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dkeye/peercall/internal/core"
)

type TrackStats struct {
	ID      string
	Kind    string
	Packets uint64
	Bytes   uint64
}

// Remote is the remote media handle of one session.
type Remote struct {
	mu       sync.Mutex
	readers  map[string]*trackReader
	sinks    SinkFactory
	released bool

	wg     sync.WaitGroup
	logger zerolog.Logger
}

func NewRemote(sinks SinkFactory, logger zerolog.Logger) *Remote {
	return &Remote{
		readers: make(map[string]*trackReader),
		sinks:   sinks,
		logger:  logger.With().Str("module", "app.stream").Logger(),
	}
}

// Attach starts draining track. It reports false when the stream was already
// released or the track is known.
func (m *Remote) Attach(ctx context.Context, track core.RemoteTrack) bool {
	logger := m.logger.With().
		Str("track_id", track.ID()).
		Str("kind", track.Kind().String()).
		Logger()

	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		logger.Info().Msg("attach after release ignored")
		return false
	}
	if _, ok := m.readers[track.ID()]; ok {
		m.mu.Unlock()
		return false
	}
	readerCtx, cancel := context.WithCancel(ctx)
	r := newTrackReader(track, cancel)
	m.readers[track.ID()] = r
	m.wg.Add(1)
	m.mu.Unlock()

	if m.sinks != nil {
		sink, err := m.sinks(track)
		if err != nil {
			logger.Warn().Err(err).Msg("sink unavailable")
		} else if sink != nil {
			r.addSink(sink)
		}
	}

	logger.Info().Msg("starting remote track reader")
	go func() {
		defer m.wg.Done()
		r.loop(readerCtx, &logger)
	}()
	return true
}

// Release detaches every track. Readers blocked in ReadRTP exit once the
// connection closes underneath them. Safe to call more than once.
func (m *Remote) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	for _, r := range m.readers {
		r.cancel()
	}
	m.logger.Debug().Int("tracks", len(m.readers)).Msg("remote stream released")
}

// Wait blocks until every reader goroutine has exited or ctx is done.
func (m *Remote) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Remote) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

func (m *Remote) Stats() []TrackStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TrackStats, 0, len(m.readers))
	for id, r := range m.readers {
		out = append(out, TrackStats{
			ID:      id,
			Kind:    r.track.Kind().String(),
			Packets: r.packets.Load(),
			Bytes:   r.bytes.Load(),
		})
	}
	return out
}
