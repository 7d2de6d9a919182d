package agent

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/edgeprof/internal/trace"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

// scenarioEvents reproduces a conditional block and an indirect branch
// source spread across two threads.
func scenarioEvents() []trace.Event {
	events := make([]trace.Event, 0, 64)

	events = append(events, trace.MarkConditional(1, 0x100))

	for range 3 {
		events = append(events, trace.BlockExecuted(1, 0x100))
	}

	events = append(events,
		trace.BranchTaken(1, 0x100),
		trace.BranchTaken(1, 0x100),
		trace.BranchFallthrough(1, 0x100),
	)

	for range 5 {
		events = append(events, trace.BlockExecuted(2, 0x200))
	}

	for range 4 {
		events = append(events, trace.IndirectBranch(2, 0x200, 0x300, true))
	}

	for range 6 {
		events = append(events, trace.IndirectBranch(1, 0x200, 0x400, true))
	}

	for range 9 {
		events = append(events, trace.IndirectBranch(2, 0x200, 0x300, false))
	}

	return events
}

func writeTrace(t *testing.T, path string, events []trace.Event) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := trace.NewWriter(f, trace.CompressionFromPath(path))
	require.NoError(t, err)

	for _, ev := range events {
		require.NoError(t, w.Write(ev))
	}

	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func testConfig(t *testing.T, traceName string) *Config {
	t.Helper()

	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Trace.Path = filepath.Join(dir, traceName)
	cfg.Report.Path = filepath.Join(dir, "edge-profile.csv")
	cfg.MetricsInterval = 10 * time.Millisecond

	return cfg
}

func TestAgent_Run(t *testing.T) {
	for _, name := range []string{"events.trace", "events.trace.zst", "events.trace.sz"} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t, name)
			writeTrace(t, cfg.Trace.Path, scenarioEvents())

			a, err := New(testLog(), cfg)
			require.NoError(t, err)

			res, err := a.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, uint64(len(scenarioEvents())), res.Replay.Events)
			assert.Equal(t, 2, res.Replay.Threads)
			assert.Equal(t, 2, res.Report.Blocks)
			assert.Equal(t, uint64(8), res.Report.Executions)

			data, err := os.ReadFile(cfg.Report.Path)
			require.NoError(t, err)
			assert.Equal(t,
				"200, 5, 0, 0, <400, 6>, <300, 4>\n100, 3, 2, 1\n",
				string(data),
			)
		})
	}
}

func TestAgent_RunWithHealth(t *testing.T) {
	cfg := testConfig(t, "events.trace")
	cfg.Health.Enabled = true
	cfg.Health.Addr = "127.0.0.1:0"
	writeTrace(t, cfg.Trace.Path, scenarioEvents())

	a, err := New(testLog(), cfg)
	require.NoError(t, err)

	_, err = a.Run(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(cfg.Report.Path)
	assert.NoError(t, err)
}

func TestAgent_CancelledWritesNoReport(t *testing.T) {
	cfg := testConfig(t, "events.trace")
	writeTrace(t, cfg.Trace.Path, scenarioEvents())

	a, err := New(testLog(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(cfg.Report.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAgent_MalformedTraceWritesNoReport(t *testing.T) {
	cfg := testConfig(t, "events.trace")
	writeTrace(t, cfg.Trace.Path, []trace.Event{
		trace.BlockExecuted(1, 0x1),
		{Kind: 42, Thread: 1, Block: 0x2},
	})

	a, err := New(testLog(), cfg)
	require.NoError(t, err)

	_, err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replaying trace")

	_, statErr := os.Stat(cfg.Report.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAgent_TruncatedTraceWritesNoReport(t *testing.T) {
	cfg := testConfig(t, "events.trace")
	writeTrace(t, cfg.Trace.Path, scenarioEvents())

	info, err := os.Stat(cfg.Trace.Path)
	require.NoError(t, err)

	// Cut the final event short.
	require.NoError(t, os.Truncate(cfg.Trace.Path, info.Size()-3))

	a, err := New(testLog(), cfg)
	require.NoError(t, err)

	_, err = a.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "replaying trace")

	_, statErr := os.Stat(cfg.Report.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAgent_MissingTrace(t *testing.T) {
	cfg := testConfig(t, "missing.trace")

	a, err := New(testLog(), cfg)
	require.NoError(t, err)

	_, err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening trace")
}

func TestAgent_ReportDirectoryMissing(t *testing.T) {
	cfg := testConfig(t, "events.trace")
	cfg.Report.Path = filepath.Join(t.TempDir(), "nope", "edge-profile.csv")
	writeTrace(t, cfg.Trace.Path, scenarioEvents())

	a, err := New(testLog(), cfg)
	require.NoError(t, err)

	_, err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writing report")
}

func TestNew_InvalidStoreConfig(t *testing.T) {
	cfg := testConfig(t, "events.trace")
	cfg.Store.Shards = 3

	_, err := New(testLog(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating store")
}
