package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/peercall/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// Sink consumes RTP from one remote track. oggwriter and ivfwriter satisfy it.
type Sink interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// SinkFactory may return a nil Sink to skip a track.
type SinkFactory func(track core.RemoteTrack) (Sink, error)

// trackReader drains one remote track for as long as the session holds it.
type trackReader struct {
	track core.RemoteTrack

	mu    sync.Mutex
	sinks []Sink

	packets atomic.Uint64
	bytes   atomic.Uint64

	cancel context.CancelFunc
}

func newTrackReader(track core.RemoteTrack, cancel context.CancelFunc) *trackReader {
	return &trackReader{track: track, cancel: cancel}
}

func (r *trackReader) addSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// loop reads RTP packets from the remote track and forwards them to sinks.
func (r *trackReader) loop(ctx context.Context, logger *zerolog.Logger) {
	defer r.closeSinks(logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("reader ctx done")
			return
		default:
		}
		pkt, _, err := r.track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("remote track ended")
			} else {
				logger.Warn().Err(err).Msg("remote track read error, stopping")
			}
			return
		}
		r.packets.Add(1)
		r.bytes.Add(uint64(len(pkt.Payload)))
		r.forward(pkt, logger)
	}
}

func (r *trackReader) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.sinks[:0]
	for _, s := range r.sinks {
		if err := s.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("sink write error, dropping sink")
			_ = s.Close()
			continue
		}
		kept = append(kept, s)
	}
	r.sinks = kept
}

func (r *trackReader) closeSinks(logger *zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			logger.Warn().Err(err).Msg("sink close")
		}
	}
	r.sinks = nil
}
