package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/relayctl/internal/message"
	"github.com/danmuck/relayctl/internal/relay"
)

// Duration parses TOML duration strings like "25ms".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type FrontendConfig struct {
	ListenAddr string `toml:"listen_addr"`
	QueueDepth int    `toml:"queue_depth"`
}

type BackendConfig struct {
	QueueDepth int `toml:"queue_depth"`
}

type LimitsConfig struct {
	MaxFrameBytes uint64 `toml:"max_frame_bytes"`
	MaxFrames     int    `toml:"max_frames"`
}

type RelayConfig struct {
	PollTimeout        Duration `toml:"poll_timeout"`
	ForwardRetryBudget int      `toml:"forward_retry_budget"`
	BackoffInitial     Duration `toml:"backoff_initial"`
	BackoffMultiplier  float64  `toml:"backoff_multiplier"`
	BackoffMax         Duration `toml:"backoff_max"`
}

type WorkersConfig struct {
	Count        int      `toml:"count"`
	PollInterval Duration `toml:"poll_interval"`
}

type ClientsConfig struct {
	Count        int      `toml:"count"`
	SendInterval Duration `toml:"send_interval"`
}

type OpsConfig struct {
	Addr         string   `toml:"addr"`
	CorsOrigins  []string `toml:"cors_origins"`
	ControlToken string   `toml:"control_token"`
}

type PhasesConfig struct {
	Plain  Duration `toml:"plain"`
	Hooked Duration `toml:"hooked"`
}

// Config is the full relayctl runtime configuration.
type Config struct {
	Name     string         `toml:"name"`
	Frontend FrontendConfig `toml:"frontend"`
	Backend  BackendConfig  `toml:"backend"`
	Limits   LimitsConfig   `toml:"limits"`
	Relay    RelayConfig    `toml:"relay"`
	Workers  WorkersConfig  `toml:"workers"`
	Clients  ClientsConfig  `toml:"clients"`
	Ops      OpsConfig      `toml:"ops"`
	Phases   PhasesConfig   `toml:"phases"`
}

func DefaultConfig() Config {
	limits := message.DefaultLimits()
	rc := relay.DefaultConfig()
	return Config{
		Name: "relayctl",
		Frontend: FrontendConfig{
			ListenAddr: "127.0.0.1:5555",
			QueueDepth: 128,
		},
		Backend: BackendConfig{
			QueueDepth: 128,
		},
		Limits: LimitsConfig{
			MaxFrameBytes: limits.MaxFrameBytes,
			MaxFrames:     limits.MaxFrames,
		},
		Relay: RelayConfig{
			PollTimeout:        Duration(rc.PollTimeout),
			ForwardRetryBudget: rc.ForwardRetryBudget,
			BackoffInitial:     Duration(rc.Backoff.InitialDelay),
			BackoffMultiplier:  rc.Backoff.Multiplier,
			BackoffMax:         Duration(rc.Backoff.MaxDelay),
		},
		Workers: WorkersConfig{
			Count:        4,
			PollInterval: Duration(10 * time.Millisecond),
		},
		Clients: ClientsConfig{
			Count:        2,
			SendInterval: Duration(5 * time.Millisecond),
		},
		Ops: OpsConfig{
			Addr:        ":9300",
			CorsOrigins: []string{"http://localhost:3000"},
		},
		Phases: PhasesConfig{
			Plain:  Duration(250 * time.Millisecond),
			Hooked: Duration(250 * time.Millisecond),
		},
	}
}

// Load reads path over the defaults; keys absent from the file keep
// their default values, unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config has unknown keys (%s): %v", path, undecoded)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("missing name")
	}
	if strings.TrimSpace(cfg.Frontend.ListenAddr) == "" {
		return fmt.Errorf("frontend missing listen_addr")
	}
	if cfg.Frontend.QueueDepth <= 0 || cfg.Backend.QueueDepth <= 0 {
		return fmt.Errorf("queue depths must be positive")
	}
	if cfg.Limits.MaxFrameBytes == 0 || cfg.Limits.MaxFrames <= 0 {
		return fmt.Errorf("limits must be positive")
	}
	if cfg.Workers.Count <= 0 {
		return fmt.Errorf("workers count must be positive")
	}
	if cfg.Clients.Count < 0 {
		return fmt.Errorf("clients count cannot be negative")
	}
	if strings.TrimSpace(cfg.Ops.Addr) == "" {
		return fmt.Errorf("ops missing addr")
	}
	if err := RelayFor(cfg, cfg.Name).Validate(); err != nil {
		return err
	}
	return nil
}

// MessageLimits converts the limits section for the endpoint layer.
func MessageLimits(cfg Config) message.Limits {
	return message.Limits{
		MaxFrameBytes: cfg.Limits.MaxFrameBytes,
		MaxFrames:     cfg.Limits.MaxFrames,
	}
}

// RelayFor builds a relay config for one named phase.
func RelayFor(cfg Config, name string) relay.Config {
	return relay.Config{
		Name:               name,
		PollTimeout:        cfg.Relay.PollTimeout.Std(),
		ForwardRetryBudget: cfg.Relay.ForwardRetryBudget,
		Backoff: relay.BackoffConfig{
			InitialDelay: cfg.Relay.BackoffInitial.Std(),
			Multiplier:   cfg.Relay.BackoffMultiplier,
			MaxDelay:     cfg.Relay.BackoffMax.Std(),
		},
	}.WithDefaults()
}
