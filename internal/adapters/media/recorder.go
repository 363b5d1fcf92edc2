package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/app/stream"
	"github.com/dkeye/peercall/internal/core"
)

// Recorder writes Opus tracks to .ogg and VP8 tracks to .ivf under dir.
// Other codecs are drained without recording.
func Recorder(dir, prefix string) (stream.SinkFactory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record dir: %w", err)
	}
	logger := log.With().Str("module", "adapters.media").Str("dir", dir).Logger()

	return func(t core.RemoteTrack) (stream.Sink, error) {
		mime := t.Codec().MimeType
		base := filepath.Join(dir, fmt.Sprintf("%s-%s", prefix, safeName(t.ID())))
		switch {
		case strings.EqualFold(mime, webrtc.MimeTypeOpus):
			w, err := oggwriter.New(base+".ogg", 48000, 2)
			if err != nil {
				return nil, err
			}
			logger.Info().Str("file", base+".ogg").Msg("recording audio")
			return w, nil
		case strings.EqualFold(mime, webrtc.MimeTypeVP8):
			w, err := ivfwriter.New(base + ".ivf")
			if err != nil {
				return nil, err
			}
			logger.Info().Str("file", base+".ivf").Msg("recording video")
			return w, nil
		}
		logger.Warn().Str("mime", mime).Msg("codec not recordable")
		return nil, nil
	}, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
