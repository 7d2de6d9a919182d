// Package selfprof captures Go runtime profiles of the edgeprof process
// itself, for tuning the recording hot path.
package selfprof

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
)

// Config configures self-profiling. An empty Mode disables it.
type Config struct {
	// Mode is one of the values returned by Modes.
	Mode string `yaml:"mode"`

	// Dir is the directory profiles are written to. Defaults to the
	// working directory.
	Dir string `yaml:"dir"`
}

var modes = map[string]func(*profile.Profile){
	"allocs":    profile.MemProfileAllocs,
	"block":     profile.BlockProfile,
	"clock":     profile.ClockProfile,
	"cpu":       profile.CPUProfile,
	"goroutine": profile.GoroutineProfile,
	"heap":      profile.MemProfileHeap,
	"mem":       profile.MemProfile,
	"mutex":     profile.MutexProfile,
	"thread":    profile.ThreadcreationProfile,
	"trace":     profile.TraceProfile,
}

// Modes returns the supported profiling modes in sorted order.
func Modes() []string {
	return slices.Sorted(maps.Keys(modes))
}

// Validate checks that Mode is supported.
func (c *Config) Validate() error {
	if c.Mode == "" {
		return nil
	}

	if _, ok := modes[c.Mode]; !ok {
		return fmt.Errorf("self_profile.mode %q is not supported (valid: %v)", c.Mode, Modes())
	}

	return nil
}

// Stopper ends a running profile and flushes it to disk.
type Stopper interface {
	Stop()
}

type noop struct{}

func (noop) Stop() {}

// Start begins profiling according to cfg. The returned Stopper must be
// stopped before the process exits.
func Start(log logrus.FieldLogger, cfg Config) (Stopper, error) {
	if cfg.Mode == "" {
		return noop{}, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []func(*profile.Profile){
		modes[cfg.Mode],
		profile.Quiet,
		// Signals are handled by the caller.
		profile.NoShutdownHook,
	}

	if cfg.Dir != "" {
		opts = append(opts, profile.ProfilePath(cfg.Dir))
	}

	log.WithFields(logrus.Fields{
		"component": "selfprof",
		"mode":      cfg.Mode,
		"dir":       cfg.Dir,
	}).Info("Self-profiling enabled")

	return profile.Start(opts...), nil
}
