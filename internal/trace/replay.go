package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config configures trace input and replay.
type Config struct {
	// Path is the recorded event stream to replay.
	Path string `yaml:"path"`

	// Compression is one of none, zstd, snappy. Empty detects it
	// from the file extension.
	Compression string `yaml:"compression"`

	// BatchSize is the number of events handed to a thread's worker
	// at once. Defaults to 512.
	BatchSize int `yaml:"batch_size"`

	// QueueDepth is the number of batches buffered per thread.
	// Defaults to 16.
	QueueDepth int `yaml:"queue_depth"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:  512,
		QueueDepth: 16,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("trace.path is required")
	}

	if !ValidCompression(c.Compression) {
		return fmt.Errorf("trace.compression %q is not a valid compression type", c.Compression)
	}

	if c.BatchSize <= 0 {
		return errors.New("trace.batch_size must be greater than 0")
	}

	if c.QueueDepth <= 0 {
		return errors.New("trace.queue_depth must be greater than 0")
	}

	return nil
}

// ReplayStats describes a finished replay.
type ReplayStats struct {
	Events   uint64
	Threads  int
	Duration time.Duration
}

// Replayer feeds a recorded event stream into a Recorder.
//
// Each recorded thread gets its own goroutine, so calls from one thread
// reach the Recorder in their original order while different threads
// run concurrently, as they would under live instrumentation.
type Replayer struct {
	log logrus.FieldLogger
	cfg Config
}

// NewReplayer creates a new Replayer. Zero batch and queue sizes fall back
// to defaults.
func NewReplayer(log logrus.FieldLogger, cfg Config) *Replayer {
	defaults := DefaultConfig()

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaults.QueueDepth
	}

	return &Replayer{
		log: log.WithField("component", "replay"),
		cfg: cfg,
	}
}

// lane is the pending work of one recorded thread.
type lane struct {
	ch    chan []Event
	batch []Event
}

// ctxCheckInterval is how many events are decoded between context checks.
const ctxCheckInterval = 4096

// Replay reads src to the end and applies every event to rec. It returns
// once all events have been applied, or on the first decode error,
// invalid event or context cancellation.
func (p *Replayer) Replay(
	ctx context.Context,
	src Source,
	rec Recorder,
) (ReplayStats, error) {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	var (
		stats ReplayStats
		lanes = make(map[uint32]*lane, 16)
	)

	send := func(l *lane) error {
		if len(l.batch) == 0 {
			return nil
		}

		select {
		case l.ch <- l.batch:
			l.batch = make([]Event, 0, p.cfg.BatchSize)

			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	}

	g.Go(func() error {
		defer func() {
			for _, l := range lanes {
				close(l.ch)
			}
		}()

		for i := uint64(0); ; i++ {
			if i%ctxCheckInterval == 0 {
				if err := gctx.Err(); err != nil {
					return err
				}
			}

			ev, err := src.Next()
			if errors.Is(err, io.EOF) {
				break
			}

			if err != nil {
				return fmt.Errorf("reading event %d: %w", i, err)
			}

			if err := ev.Validate(); err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}

			stats.Events++

			l, ok := lanes[ev.Thread]
			if !ok {
				l = &lane{
					ch:    make(chan []Event, p.cfg.QueueDepth),
					batch: make([]Event, 0, p.cfg.BatchSize),
				}
				lanes[ev.Thread] = l

				p.log.WithField("thread", ev.Thread).Debug("New thread in trace")

				g.Go(func() error {
					return apply(gctx, l.ch, rec)
				})
			}

			l.batch = append(l.batch, ev)

			if len(l.batch) >= p.cfg.BatchSize {
				if err := send(l); err != nil {
					return err
				}
			}
		}

		for _, l := range lanes {
			if err := send(l); err != nil {
				return err
			}
		}

		return nil
	})

	err := g.Wait()

	stats.Threads = len(lanes)
	stats.Duration = time.Since(start)

	if err != nil {
		return stats, err
	}

	p.log.WithFields(logrus.Fields{
		"events":   stats.Events,
		"threads":  stats.Threads,
		"duration": stats.Duration,
	}).Info("Trace replayed")

	return stats, nil
}

// apply drains one thread's batches into rec in order.
func apply(ctx context.Context, ch <-chan []Event, rec Recorder) error {
	for batch := range ch {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, ev := range batch {
			if err := ev.Apply(rec); err != nil {
				return err
			}
		}
	}

	return nil
}
