package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/edgeprof/internal/profile"
)

// DefaultPath is the report file name used when none is configured.
const DefaultPath = "edge-profile.csv"

// Config configures the report output.
type Config struct {
	// Path is the output file. Defaults to edge-profile.csv in the
	// working directory.
	Path string `yaml:"path"`

	// TopTargets is the number of indirect targets emitted per block.
	// Defaults to 10.
	TopTargets int `yaml:"top_targets"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:       DefaultPath,
		TopTargets: DefaultTopTargets,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("report.path is required")
	}

	if c.TopTargets <= 0 {
		return errors.New("report.top_targets must be positive")
	}

	return nil
}

// Summary describes a written report.
type Summary struct {
	Path              string
	Blocks            int
	Executions        uint64
	ConditionalBlocks int
	IndirectSources   int
	IndirectTargets   int
	Duration          time.Duration
}

// Summarize computes totals over the full snapshot, before any target
// truncation.
func Summarize(snaps []profile.BlockSnapshot) Summary {
	s := Summary{Blocks: len(snaps)}

	for _, b := range snaps {
		s.Executions += b.Executions

		if b.Conditional {
			s.ConditionalBlocks++
		}

		if len(b.Targets) > 0 {
			s.IndirectSources++
			s.IndirectTargets += len(b.Targets)
		}
	}

	return s
}

// Reporter builds and writes the report for a frozen store.
type Reporter struct {
	log     logrus.FieldLogger
	cfg     Config
	builder *Builder
}

// NewReporter creates a new Reporter.
func NewReporter(log logrus.FieldLogger, cfg Config) *Reporter {
	return &Reporter{
		log:     log.WithField("component", "report"),
		cfg:     cfg,
		builder: NewBuilder(cfg.TopTargets),
	}
}

// Report ranks snaps and writes them to the configured path.
func (r *Reporter) Report(snaps []profile.BlockSnapshot) (Summary, error) {
	start := time.Now()

	rows := r.builder.Build(snaps)

	if err := WriteFile(r.cfg.Path, rows); err != nil {
		return Summary{}, fmt.Errorf("writing report %s: %w", r.cfg.Path, err)
	}

	sum := Summarize(snaps)
	sum.Path = r.cfg.Path
	sum.Duration = time.Since(start)

	r.log.WithFields(logrus.Fields{
		"path":               sum.Path,
		"blocks":             sum.Blocks,
		"executions":         sum.Executions,
		"conditional_blocks": sum.ConditionalBlocks,
		"indirect_sources":   sum.IndirectSources,
		"indirect_targets":   sum.IndirectTargets,
		"duration":           sum.Duration,
	}).Info("Report written")

	return sum, nil
}
