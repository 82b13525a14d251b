package relay

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("relay: invalid config")

// BackoffConfig defines the retry delay curve for held forwards.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config tunes one relay instance.
type Config struct {
	// Name distinguishes this instance when several relays share a
	// control bus; a named TERMINATE only stops the matching instance.
	Name string
	// PollTimeout bounds the multiplexed wait of one tick so the loop
	// stays responsive to termination even when idle.
	PollTimeout time.Duration
	// ForwardRetryBudget caps how many ticks a would-block forward is
	// held and retried before it is dropped as a forward timeout.
	ForwardRetryBudget int
	// Backoff spaces retries of a held forward.
	Backoff BackoffConfig
	// LeaveEndpointsOpen skips closing the endpoints on terminate so a
	// later relay phase can reuse the same handles. Phases must stay
	// strictly sequential; the final phase leaves this unset.
	LeaveEndpointsOpen bool
}

func DefaultConfig() Config {
	return Config{
		Name:               "relay",
		PollTimeout:        25 * time.Millisecond,
		ForwardRetryBudget: 20,
		Backoff: BackoffConfig{
			InitialDelay: 1 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     50 * time.Millisecond,
			Jitter:       false,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	if c.ForwardRetryBudget <= 0 {
		c.ForwardRetryBudget = def.ForwardRetryBudget
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("%w: poll timeout must be positive", ErrInvalidConfig)
	}
	if c.ForwardRetryBudget <= 0 {
		return fmt.Errorf("%w: forward retry budget must be positive", ErrInvalidConfig)
	}
	if c.Backoff.Multiplier < 1.0 {
		return fmt.Errorf("%w: backoff multiplier below 1.0", ErrInvalidConfig)
	}
	return nil
}
