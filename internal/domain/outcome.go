package domain

import (
	"fmt"
	"time"
)

type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeMissed    OutcomeKind = "missed"
	OutcomeEnded     OutcomeKind = "ended"
)

// Outcome is what the call log says about a finished call.
type Outcome struct {
	Kind     OutcomeKind
	CallKind CallKind
	Duration time.Duration
}

func (o Outcome) Text() string {
	label := "Voice call"
	if o.CallKind == CallVideo {
		label = "Video call"
	}
	switch o.Kind {
	case OutcomeCompleted:
		return fmt.Sprintf("%s · %s", label, FormatDuration(o.Duration))
	case OutcomeCancelled:
		return label + " · cancelled"
	case OutcomeMissed:
		return label + " · missed"
	default:
		return label + " · ended"
	}
}

// FormatDuration renders mm:ss, or h:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	s := max(int(d/time.Second), 0)
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s%3600/60, s%60)
	}
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
