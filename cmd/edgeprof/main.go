package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/edgeprof/internal/agent"
	"github.com/ethpandaops/edgeprof/internal/selfprof"
	"github.com/ethpandaops/edgeprof/internal/version"
)

var (
	cfgFile     string
	logLevel    string
	tracePath   string
	outputPath  string
	selfProfile string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edgeprof",
		Short: "Basic-block execution and branch edge profiler",
		Long: `edgeprof replays a recorded instrumentation trace into a
per-basic-block counter store and writes a ranked edge profile:
execution counts, taken/fallthrough counts for conditional branches
and the most frequent targets of indirect branches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.Flags().StringVar(
		&cfgFile, "config", "",
		"path to config file",
	)
	cmd.Flags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)
	cmd.Flags().StringVar(
		&tracePath, "trace", "",
		"override trace file to replay",
	)
	cmd.Flags().StringVarP(
		&outputPath, "output", "o", "",
		"override report output path",
	)
	cmd.Flags().StringVar(
		&selfProfile, "self-profile", "",
		fmt.Sprintf("profile edgeprof itself (%v)", selfprof.Modes()),
	)

	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func loadConfig() (*agent.Config, error) {
	cfg := agent.DefaultConfig()

	if cfgFile != "" {
		var err error

		cfg, err = agent.ReadConfig(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	// CLI flags override config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if tracePath != "" {
		cfg.Trace.Path = tracePath
	}

	if outputPath != "" {
		cfg.Report.Path = outputPath
	}

	if selfProfile != "" {
		cfg.SelfProfile.Mode = selfProfile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	a, err := agent.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.WithField("version", version.Full()).Info("Starting edgeprof")

	res, err := a.Run(ctx)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"report": res.Report.Path,
		"blocks": res.Report.Blocks,
		"events": res.Replay.Events,
	}).Info("Profile complete")

	return nil
}
