// Package rtc builds pion peer connections for call sessions.
package rtc

import (
	"context"
	"fmt"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
)

type options struct {
	net           transport.Net
	loggerFactory logging.LoggerFactory
	portMin       uint16
	portMax       uint16
}

type Option func(*options)

// WithNet routes all ICE traffic through n, e.g. a vnet for tests.
// mDNS candidates are turned off since a virtual net cannot resolve them.
func WithNet(n transport.Net) Option {
	return func(o *options) { o.net = n }
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(o *options) { o.loggerFactory = f }
}

func WithUDPPortRange(lo, hi uint16) Option {
	return func(o *options) { o.portMin, o.portMax = lo, hi }
}

// Factory is a core.Connector over one configured webrtc.API.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger zerolog.Logger
}

var _ core.Connector = (*Factory)(nil)

func NewFactory(iceServers []webrtc.ICEServer, opts ...Option) (*Factory, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.With().Str("module", "adapters.rtc").Logger()
	if o.loggerFactory == nil {
		o.loggerFactory = NewLoggerFactory(logger)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: o.loggerFactory}
	if o.net != nil {
		se.SetNet(o.net)
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}
	if o.portMin > 0 || o.portMax > 0 {
		if err := se.SetEphemeralUDPPortRange(o.portMin, o.portMax); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{
		api:    api,
		config: webrtc.Configuration{ICEServers: iceServers},
		logger: logger,
	}, nil
}

func (f *Factory) NewConnection(ctx context.Context) (core.MediaConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	return newConnection(pc, f.logger), nil
}
