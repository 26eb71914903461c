package conference

import (
	"fmt"
	"os"
	"time"

	"github.com/bt-bridge/conference/shared"
	"github.com/goccy/go-yaml"
)

const (
	DefaultMaxParticipants         = 256
	DefaultMaxTracksPerParticipant = 32
	DefaultMaxSubscribers          = 32
	DefaultSpeakerDebounce         = 180 * time.Millisecond
	DefaultSpeakerHysteresis       = 900 * time.Millisecond

	maxCountBound = 4096
	maxDelayBound = 60 * time.Second
)

type engineOpts struct {
	maxParticipants         int
	maxTracksPerParticipant int
	maxSubscribers          int
	promoteDelay            time.Duration
	demoteDelay             time.Duration
}

func defaultEngineOpts() engineOpts {
	return engineOpts{
		maxParticipants:         DefaultMaxParticipants,
		maxTracksPerParticipant: DefaultMaxTracksPerParticipant,
		maxSubscribers:          DefaultMaxSubscribers,
		promoteDelay:            DefaultSpeakerDebounce,
		demoteDelay:             DefaultSpeakerHysteresis,
	}
}

// EngineOption customizes engine construction. Out-of-range values fail
// NewEngine with a join_failed validation error.
type EngineOption func(*engineOpts) error

func validateCount(name string, n int) error {
	if n < 0 || n > maxCountBound {
		return shared.NewError(shared.KindJoinFailed,
			fmt.Sprintf("%s must be between 0 and %d, got %d", name, maxCountBound, n))
	}
	return nil
}

func validateDelay(name string, d time.Duration) error {
	if d < 0 || d > maxDelayBound {
		return shared.NewError(shared.KindJoinFailed,
			fmt.Sprintf("%s must be between 0 and %s, got %s", name, maxDelayBound, d))
	}
	return nil
}

// WithMaxParticipants bounds the number of tracked remote participants.
func WithMaxParticipants(n int) EngineOption {
	return func(o *engineOpts) error {
		if err := validateCount("max participants", n); err != nil {
			return err
		}
		o.maxParticipants = n
		return nil
	}
}

// WithMaxTracksPerParticipant bounds the subscribed track set per identity.
func WithMaxTracksPerParticipant(n int) EngineOption {
	return func(o *engineOpts) error {
		if err := validateCount("max tracks per participant", n); err != nil {
			return err
		}
		o.maxTracksPerParticipant = n
		return nil
	}
}

// WithMaxSubscribers bounds the number of registered snapshot listeners.
func WithMaxSubscribers(n int) EngineOption {
	return func(o *engineOpts) error {
		if err := validateCount("max subscribers", n); err != nil {
			return err
		}
		o.maxSubscribers = n
		return nil
	}
}

// WithSpeakerDebounce sets how long an identity must stay in the raw
// speaker set before being promoted to active. Zero promotes immediately.
func WithSpeakerDebounce(d time.Duration) EngineOption {
	return func(o *engineOpts) error {
		if err := validateDelay("speaker debounce", d); err != nil {
			return err
		}
		o.promoteDelay = d
		return nil
	}
}

// WithSpeakerHysteresis sets how long an active identity must stay out of
// the raw speaker set before being demoted. Zero demotes immediately.
func WithSpeakerHysteresis(d time.Duration) EngineOption {
	return func(o *engineOpts) error {
		if err := validateDelay("speaker hysteresis", d); err != nil {
			return err
		}
		o.demoteDelay = d
		return nil
	}
}

// Config is the file-driven counterpart of the engine options. Zero fields
// select the documented defaults; explicit zero delays are only reachable
// through WithSpeakerDebounce / WithSpeakerHysteresis.
type Config struct {
	MaxParticipants         int `yaml:"max_participants"`
	MaxTracksPerParticipant int `yaml:"max_tracks_per_participant"`
	MaxSubscribers          int `yaml:"max_subscribers"`
	SpeakerDebounceMs       int `yaml:"speaker_debounce_ms"`
	SpeakerHysteresisMs     int `yaml:"speaker_hysteresis_ms"`
}

// Options translates the config into engine options, skipping zero fields.
func (c Config) Options() []EngineOption {
	var opts []EngineOption
	if c.MaxParticipants != 0 {
		opts = append(opts, WithMaxParticipants(c.MaxParticipants))
	}
	if c.MaxTracksPerParticipant != 0 {
		opts = append(opts, WithMaxTracksPerParticipant(c.MaxTracksPerParticipant))
	}
	if c.MaxSubscribers != 0 {
		opts = append(opts, WithMaxSubscribers(c.MaxSubscribers))
	}
	if c.SpeakerDebounceMs != 0 {
		opts = append(opts, WithSpeakerDebounce(time.Duration(c.SpeakerDebounceMs)*time.Millisecond))
	}
	if c.SpeakerHysteresisMs != 0 {
		opts = append(opts, WithSpeakerHysteresis(time.Duration(c.SpeakerHysteresisMs)*time.Millisecond))
	}
	return opts
}

// LoadConfig reads a YAML engine configuration from disk.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}
