package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

type sessionEntry struct {
	Role   domain.Role
	Cancel context.CancelFunc
	Since  time.Time
}

// Registry keeps at most one live session per call in this process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.CallID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.CallID]*sessionEntry),
	}
}

// Claim reserves callID. It fails with core.ErrSessionExists while another
// session holds it.
func (r *Registry) Claim(callID domain.CallID, role domain.Role, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callID]; ok {
		return fmt.Errorf("%w: %s", core.ErrSessionExists, callID)
	}
	r.sessions[callID] = &sessionEntry{Role: role, Cancel: cancel, Since: time.Now()}
	log.Info().Str("module", "app.registry").Str("call_id", string(callID)).Str("role", string(role)).Msg("claimed call")
	return nil
}

func (r *Registry) Release(callID domain.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
	log.Info().Str("module", "app.registry").Str("call_id", string(callID)).Msg("released call")
}

func (r *Registry) Has(callID domain.CallID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[callID]
	return ok
}

type ActiveSession struct {
	CallID domain.CallID
	Role   domain.Role
	Since  time.Time
}

func (r *Registry) Active() []ActiveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ActiveSession, 0, len(r.sessions))
	for id, e := range r.sessions {
		out = append(out, ActiveSession{CallID: id, Role: e.Role, Since: e.Since})
	}
	return out
}

// Cancel stops the session bound to callID, if any.
func (r *Registry) Cancel(callID domain.CallID) bool {
	r.mu.RLock()
	e, ok := r.sessions[callID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("call_id", string(callID)).Msg("canceled session")
	return true
}

// CancelAll is used on process shutdown.
func (r *Registry) CancelAll() {
	for _, s := range r.Active() {
		r.Cancel(s.CallID)
	}
}
