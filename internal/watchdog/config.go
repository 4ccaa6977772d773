package watchdog

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete watchdog configuration.
//
// The bastard policy flags can be reconfigured at runtime by the stability
// controller, so reads and writes of those two flags go through the accessor
// methods; everything else is fixed after New.
type Config struct {
	// Period is the reaper loop interval
	// Default: 10 seconds
	Period time.Duration `json:"period"`

	// MaxFibers is an advisory cap on monitored fibers. It is surfaced to
	// hosts and telemetry but not enforced by the core.
	// Default: 30
	MaxFibers int `json:"max_fibers"`

	// Delay is the default grace period a permanent entry receives when a
	// generation transition demotes it to temporary
	// Default: 600 seconds
	Delay time.Duration `json:"delay"`

	// CSWStuck is the default maximum time a fiber's context-switch count may
	// remain unchanged before it is classified stuck
	// Default: 1200 seconds
	CSWStuck time.Duration `json:"csw_stuck"`

	// Heartrate is the default maximum heartbeat silence before a fiber is
	// classified comatose. Negative disables heartbeat monitoring.
	// Default: -1 (disabled)
	Heartrate time.Duration `json:"heartrate"`

	// WatchdogLag is the maximum observed scheduling-loop elapsed time before
	// a lag alert is emitted
	// Default: 120 milliseconds
	WatchdogLag time.Duration `json:"watchdog_lag"`

	// WatchdogPeriod is the lag-detector sleep interval. Zero or negative
	// disables the lag detector entirely.
	// Default: 100 milliseconds
	WatchdogPeriod time.Duration `json:"watchdog_period"`

	// BastardsAllowed permits live fibers with no monitor entry
	// Default: true
	BastardsAllowed bool `json:"bastards_allowed"`

	// BastardsBeatsAllowed permits beat/done signals from unmonitored fibers
	// without alerting
	// Default: false
	BastardsBeatsAllowed bool `json:"bastards_beats_allowed"`

	// BastardsMasks is an ordered list of name patterns (regular expressions,
	// first match wins) exempting unmonitored fibers from the bastard anomaly
	// even when BastardsAllowed is false
	BastardsMasks []string `json:"bastards_masks"`

	mu sync.RWMutex // protects the runtime-reconfigurable bastard flags
}

// DefaultConfig returns the default watchdog configuration.
func DefaultConfig() *Config {
	return &Config{
		Period:               10 * time.Second,
		MaxFibers:            30,
		Delay:                600 * time.Second,
		CSWStuck:             1200 * time.Second,
		Heartrate:            -time.Second,
		WatchdogLag:          120 * time.Millisecond,
		WatchdogPeriod:       100 * time.Millisecond,
		BastardsAllowed:      true,
		BastardsBeatsAllowed: false,
		BastardsMasks:        []string{"^fiberwatch/", "^console/", "^sched/"},
	}
}

// Validate checks if the configuration has valid values.
func (c *Config) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("period must be positive (got %v)", c.Period)
	}
	if c.MaxFibers <= 0 {
		return fmt.Errorf("max_fibers must be positive (got %d)", c.MaxFibers)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be non-negative (got %v)", c.Delay)
	}
	if c.CSWStuck <= 0 {
		return fmt.Errorf("csw_stuck must be positive (got %v)", c.CSWStuck)
	}
	if c.WatchdogLag < 0 {
		return fmt.Errorf("watchdog_lag must be non-negative (got %v)", c.WatchdogLag)
	}
	for _, mask := range c.BastardsMasks {
		if _, err := regexp.Compile(mask); err != nil {
			return fmt.Errorf("invalid bastards_mask %q: %w", mask, err)
		}
	}
	return nil
}

// AllowsBastards reports whether unmonitored fibers are globally permitted.
func (c *Config) AllowsBastards() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.BastardsAllowed
}

// AllowsBastardBeats reports whether beat/done from unmonitored fibers is
// permitted without alerting.
func (c *Config) AllowsBastardBeats() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.BastardsBeatsAllowed
}

// AllowAllBastards permanently flips both bastard policy flags to true.
// Returns true if either flag actually changed, so callers can emit the
// reconfiguration alert exactly once.
func (c *Config) AllowAllBastards() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := !c.BastardsAllowed || !c.BastardsBeatsAllowed
	c.BastardsAllowed = true
	c.BastardsBeatsAllowed = true
	return changed
}

// ConfigFromEnv creates a Config from environment variables, falling back to
// defaults.
//
// Environment variables:
//   - FIBERWATCH_PERIOD: reaper loop interval (Go duration, default: 10s)
//   - FIBERWATCH_MAX_FIBERS: advisory fiber cap (default: 30)
//   - FIBERWATCH_DELAY: default generation-transition grace period (default: 600s)
//   - FIBERWATCH_CSW_STUCK: default stuck threshold (default: 1200s)
//   - FIBERWATCH_HEARTRATE: default heartbeat threshold (default: -1s, disabled)
//   - FIBERWATCH_WATCHDOG_LAG: lag alert threshold (default: 120ms)
//   - FIBERWATCH_WATCHDOG_PERIOD: lag detector interval (default: 100ms)
//   - FIBERWATCH_BASTARDS_ALLOWED: permit unmonitored fibers (default: true)
//   - FIBERWATCH_BASTARDS_BEATS_ALLOWED: permit unmonitored beats (default: false)
//
// Returns an error if any variable has an invalid value.
func ConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if err := parseEnvDuration("FIBERWATCH_PERIOD", &cfg.Period); err != nil {
		return nil, err
	}
	if err := parseEnvInt("FIBERWATCH_MAX_FIBERS", &cfg.MaxFibers); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("FIBERWATCH_DELAY", &cfg.Delay); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("FIBERWATCH_CSW_STUCK", &cfg.CSWStuck); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("FIBERWATCH_HEARTRATE", &cfg.Heartrate); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("FIBERWATCH_WATCHDOG_LAG", &cfg.WatchdogLag); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("FIBERWATCH_WATCHDOG_PERIOD", &cfg.WatchdogPeriod); err != nil {
		return nil, err
	}
	if err := parseEnvBool("FIBERWATCH_BASTARDS_ALLOWED", &cfg.BastardsAllowed); err != nil {
		return nil, err
	}
	if err := parseEnvBool("FIBERWATCH_BASTARDS_BEATS_ALLOWED", &cfg.BastardsBeatsAllowed); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watchdog configuration from environment: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors the on-disk option names. Durations are plain seconds so
// config files stay readable (heartrate: -1, watchdog_lag: 0.12).
type fileConfig struct {
	Period               *float64 `yaml:"period"`
	MaxFibers            *int     `yaml:"max_fibers"`
	Delay                *float64 `yaml:"delay"`
	CSWStuck             *float64 `yaml:"csw_stuck"`
	Heartrate            *float64 `yaml:"heartrate"`
	WatchdogLag          *float64 `yaml:"watchdog_lag"`
	WatchdogPeriod       *float64 `yaml:"watchdog_period"`
	BastardsAllowed      *bool    `yaml:"bastards_allowed"`
	BastardsBeatsAllowed *bool    `yaml:"bastards_beats_allowed"`
	BastardsMasks        []string `yaml:"bastards_masks"`
}

// LoadConfig reads a YAML config file, overlaying its values on the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	overlaySeconds(&cfg.Period, fc.Period)
	if fc.MaxFibers != nil {
		cfg.MaxFibers = *fc.MaxFibers
	}
	overlaySeconds(&cfg.Delay, fc.Delay)
	overlaySeconds(&cfg.CSWStuck, fc.CSWStuck)
	overlaySeconds(&cfg.Heartrate, fc.Heartrate)
	overlaySeconds(&cfg.WatchdogLag, fc.WatchdogLag)
	overlaySeconds(&cfg.WatchdogPeriod, fc.WatchdogPeriod)
	if fc.BastardsAllowed != nil {
		cfg.BastardsAllowed = *fc.BastardsAllowed
	}
	if fc.BastardsBeatsAllowed != nil {
		cfg.BastardsBeatsAllowed = *fc.BastardsBeatsAllowed
	}
	if fc.BastardsMasks != nil {
		cfg.BastardsMasks = fc.BastardsMasks
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watchdog configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func overlaySeconds(dest *time.Duration, src *float64) {
	if src == nil {
		return
	}
	*dest = time.Duration(*src * float64(time.Second))
}

// Exemption decides whether an unmonitored fiber name is exempt from the
// bastard anomaly. Hosts can swap in their own policy through Deps.
type Exemption func(name string) bool

// MaskExemption compiles an ordered list of regular expressions into an
// Exemption evaluated first-match-wins.
func MaskExemption(masks []string) (Exemption, error) {
	compiled := make([]*regexp.Regexp, 0, len(masks))
	for _, mask := range masks {
		re, err := regexp.Compile(mask)
		if err != nil {
			return nil, fmt.Errorf("invalid bastards_mask %q: %w", mask, err)
		}
		compiled = append(compiled, re)
	}
	return func(name string) bool {
		for _, re := range compiled {
			if re.MatchString(name) {
				return true
			}
		}
		return false
	}, nil
}

func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
