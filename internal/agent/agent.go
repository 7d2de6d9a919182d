package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/edgeprof/internal/export"
	"github.com/ethpandaops/edgeprof/internal/profile"
	"github.com/ethpandaops/edgeprof/internal/report"
	"github.com/ethpandaops/edgeprof/internal/selfprof"
	"github.com/ethpandaops/edgeprof/internal/trace"
)

var _ trace.Recorder = (*profile.Store)(nil)

// Result describes a completed profiling run.
type Result struct {
	Replay trace.ReplayStats
	Report report.Summary
}

// Agent is the top-level orchestrator for a profiling run.
type Agent interface {
	// Run replays the configured trace into a fresh counter store, freezes
	// it and writes the report. No report is written if Run fails or ctx
	// is cancelled before replay completes.
	Run(ctx context.Context) (Result, error)
}

type agent struct {
	log      logrus.FieldLogger
	cfg      *Config
	health   *export.HealthMetrics
	store    *profile.Store
	replayer *trace.Replayer
	reporter *report.Reporter
}

// New creates a new Agent.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	store, err := profile.NewStore(log, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	return &agent{
		log:      log.WithField("component", "agent"),
		cfg:      cfg,
		health:   export.NewHealthMetrics(log, cfg.Health),
		store:    store,
		replayer: trace.NewReplayer(log, cfg.Trace),
		reporter: report.NewReporter(log, cfg.Report),
	}, nil
}

func (a *agent) Run(ctx context.Context) (Result, error) {
	var res Result

	// 1. Self-profiling, if requested.
	prof, err := selfprof.Start(a.log, a.cfg.SelfProfile)
	if err != nil {
		return res, fmt.Errorf("starting self-profile: %w", err)
	}
	defer prof.Stop()

	// 2. Health metrics server.
	if a.cfg.Health.Enabled {
		if err := a.health.Start(ctx); err != nil {
			return res, fmt.Errorf("starting health metrics: %w", err)
		}

		defer func() {
			if err := a.health.Stop(); err != nil {
				a.log.WithError(err).Warn("Error stopping health metrics")
			}
		}()
	}

	// 3. Open the recorded event stream.
	src, err := trace.Open(a.cfg.Trace.Path, a.cfg.Trace.Compression)
	if err != nil {
		return res, err
	}

	defer func() {
		if err := src.Close(); err != nil {
			a.log.WithError(err).Warn("Error closing trace")
		}
	}()

	a.log.WithField("trace", a.cfg.Trace.Path).Info("Replaying trace")

	// 4. Replay into the store while publishing counters.
	pubCtx, stopPublish := context.WithCancel(ctx)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		a.publishLoop(pubCtx)
	}()

	res.Replay, err = a.replayer.Replay(ctx, src, a.store)

	stopPublish()
	wg.Wait()

	a.health.ReplayThreads.Set(float64(res.Replay.Threads))
	a.health.ReplayDuration.Set(res.Replay.Duration.Seconds())
	a.health.ReplayEvents.Add(float64(res.Replay.Events))

	if err != nil {
		a.health.ReplayErrors.Inc()

		return res, fmt.Errorf("replaying trace: %w", err)
	}

	// 5. Recording has ceased; freeze and report.
	a.store.Freeze()
	a.publish()

	start := time.Now()

	res.Report, err = a.reporter.Report(a.store.Snapshot())
	if err != nil {
		a.health.ReportErrors.Inc()

		return res, fmt.Errorf("writing report: %w", err)
	}

	a.health.ReportWriteDuration.Observe(time.Since(start).Seconds())
	a.health.ReportRows.Set(float64(res.Report.Blocks))

	return res, nil
}

// publishLoop periodically publishes store counters until ctx is done.
func (a *agent) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.publish()
		}
	}
}

// publish drains the store counters into the health metrics.
func (a *agent) publish() {
	ops := a.store.DrainStats()

	a.health.ObserveOps(ops)
	a.health.BlocksTracked.Set(float64(a.store.Len()))

	if late := ops[profile.OpLate]; late > 0 {
		a.log.WithField("count", late).
			Warn("Recording calls arrived after the store was frozen")
	}
}
