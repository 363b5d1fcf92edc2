// Package orch runs call sessions: one event loop per call tying together
// the negotiator, the signaling transport, timers and the outcome policy.
package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/negotiator"
	"github.com/dkeye/peercall/internal/app/stream"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

type Config struct {
	// AnswerTimeout bounds how long an initiator rings.
	AnswerTimeout time.Duration
	// TickInterval is the granularity of the active-call duration.
	TickInterval time.Duration
	// RestartTimeout bounds the single ICE restart.
	RestartTimeout time.Duration
	// WriteTimeout bounds best-effort status and call-log writes on the way out.
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		AnswerTimeout:  45 * time.Second,
		TickInterval:   time.Second,
		RestartTimeout: 15 * time.Second,
		WriteTimeout:   3 * time.Second,
	}
}

type Orchestrator struct {
	Registry  *app.Registry
	Policy    app.Policy
	Transport core.SignalTransport
	CallLog   core.CallLog
	Connector core.Connector
	Devices   core.DeviceMedia
	Sinks     stream.SinkFactory
	Config    Config
}

type StartRequest struct {
	Call domain.Call
	Self domain.UserID
	// OnUpdate runs on the session loop; it must not block.
	OnUpdate func(Update)
}

// Update is a snapshot pushed to the owner of a session.
type Update struct {
	CallID       domain.CallID
	Status       domain.CallStatus
	Elapsed      time.Duration
	Connectivity negotiator.Connectivity
	Muted        bool
	CameraOff    bool
	Err          error
}

// Start claims the call and runs a new session until it terminates or ctx ends.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Session, error) {
	role, ok := req.Call.RoleOf(req.Self)
	if !ok {
		return nil, fmt.Errorf("%s is not a party of call %s", req.Self, req.Call.ID)
	}
	policy := o.Policy
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	cfg := o.Config
	def := DefaultConfig()
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = def.AnswerTimeout
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.RestartTimeout <= 0 {
		cfg.RestartTimeout = def.RestartTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	sessCtx, cancel := context.WithCancel(ctx)
	if err := o.Registry.Claim(req.Call.ID, role, cancel); err != nil {
		cancel()
		return nil, err
	}

	base := log.With().
		Str("call_id", string(req.Call.ID)).
		Str("role", string(role)).
		Logger()
	logger := base.With().Str("module", "app.orch").Logger()

	s := &Session{
		call:      req.Call,
		self:      req.Self,
		role:      role,
		cfg:       cfg,
		policy:    policy,
		registry:  o.Registry,
		transport: o.Transport,
		callLog:   o.CallLog,
		onUpdate:  req.OnUpdate,
		neg: negotiator.New(negotiator.Options{
			Connector: o.Connector,
			Devices:   o.Devices,
			Sinks:     o.Sinks,
			Logger:    base,
		}),
		mb:     newMailbox(),
		seen:   make(map[string]struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run(sessCtx, cancel)
	return s, nil
}
