package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// HubURL is the WebSocket endpoint a peer dials.
	HubURL     string      `mapstructure:"hub_url"`
	ICEServers []ICEServer `mapstructure:"ice_servers"`
	UDPPortMin uint16      `mapstructure:"udp_port_min"`
	UDPPortMax uint16      `mapstructure:"udp_port_max"`

	AnswerTimeout  time.Duration `mapstructure:"answer_timeout"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	RestartTimeout time.Duration `mapstructure:"restart_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`

	SignalRate     float64       `mapstructure:"signal_rate"`
	SignalBurst    int           `mapstructure:"signal_burst"`
	CallsPerMinute int           `mapstructure:"calls_per_minute"`
	CallRetention  time.Duration `mapstructure:"call_retention"`
	JanitorPeriod  time.Duration `mapstructure:"janitor_period"`

	// RecordDir enables recording of remote media when set.
	RecordDir string `mapstructure:"record_dir"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, or CONFIG_FILE when set, over
// defaults. Flags, when given, override both; "hub-url" binds to hub_url.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("hub_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("ice_servers", []map[string]any{{"urls": []string{"stun:stun.l.google.com:19302"}}})
	v.SetDefault("answer_timeout", "45s")
	v.SetDefault("tick_interval", "1s")
	v.SetDefault("restart_timeout", "15s")
	v.SetDefault("write_timeout", "3s")
	v.SetDefault("signal_rate", 50)
	v.SetDefault("signal_burst", 100)
	v.SetDefault("calls_per_minute", 10)
	v.SetDefault("call_retention", "1h")
	v.SetDefault("janitor_period", "1m")

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Int("ice_servers", len(cfg.ICEServers)).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.UDPPortMin > c.UDPPortMax {
		errs = append(errs, fmt.Errorf("udp port range %d-%d is inverted", c.UDPPortMin, c.UDPPortMax))
	}
	for name, d := range map[string]time.Duration{
		"answer_timeout":  c.AnswerTimeout,
		"tick_interval":   c.TickInterval,
		"restart_timeout": c.RestartTimeout,
		"write_timeout":   c.WriteTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.SignalRate <= 0 || c.SignalBurst <= 0 {
		errs = append(errs, errors.New("signal_rate and signal_burst must be positive"))
	}
	for i, s := range c.ICEServers {
		if err := validateICEServer(s); err != nil {
			errs = append(errs, fmt.Errorf("ice_servers[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func validateICEServer(s ICEServer) error {
	if len(s.URLs) == 0 {
		return errors.New("missing urls")
	}
	needCreds := false
	for _, raw := range s.URLs {
		u, err := stun.ParseURI(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%q: %w", raw, err)
		}
		if u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS {
			needCreds = true
		}
	}
	if needCreds && (strings.TrimSpace(s.Username) == "" || strings.TrimSpace(s.Credential) == "") {
		return errors.New("turn urls require username and credential")
	}
	return nil
}

// WebRTCICEServers converts the configured servers for a peer connection.
func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}
