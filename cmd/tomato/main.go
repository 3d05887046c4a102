// Package main is the tomato client entrypoint: one binary with flags,
// grounded on the teacher's cmd/daemon cobra subcommand shape
// (status_cmd.go, report_cmd.go) applied to a single root command rather
// than a subcommand tree, since the CLI surface here is flags only.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dtcooper/tomato/internal/blockgen"
	"github.com/dtcooper/tomato/internal/daemon"
	xlog "github.com/dtcooper/tomato/internal/log"
	"github.com/dtcooper/tomato/internal/playout"
	"github.com/dtcooper/tomato/internal/singleinstance"
	"github.com/dtcooper/tomato/internal/telemetry"
	"github.com/dtcooper/tomato/internal/version"
)

var (
	flagDebug         bool
	flagAllowMultiple bool
	flagPrintHTML     bool
	flagShowVersion   bool
	flagDataDir       string
)

func init() {
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable verbose (debug-level) logging")
	rootCmd.Flags().BoolVar(&flagAllowMultiple, "allow-multiple", false, "skip the single-instance lock")
	rootCmd.Flags().BoolVar(&flagPrintHTML, "print-html", false, "print a diagnostic HTML dump of recent log entries and exit")
	rootCmd.Flags().BoolVarP(&flagShowVersion, "version", "v", false, "print version and exit")
	rootCmd.Flags().StringVar(&flagDataDir, "data-dir", defaultDataDir(), "user data directory (db, media, config.json, tomato.run)")
}

var rootCmd = &cobra.Command{
	Use:           "tomato",
	Short:         "Tomato stop set scheduler client",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func defaultDataDir() string {
	if dir := os.Getenv("TOMATO_DATA"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "tomato")
}

func run(cmd *cobra.Command, args []string) error {
	if flagShowVersion {
		fmt.Printf("tomato %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return nil
	}

	level := "info"
	if flagDebug {
		level = "debug"
	}
	xlog.Configure(xlog.Config{
		Level:   level,
		Service: "tomato",
		Version: version.Version,
	})

	if flagPrintHTML {
		return printDiagnosticHTML(os.Stdout)
	}

	logger := xlog.WithComponent("main")

	if err := os.MkdirAll(flagDataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	var lock *singleinstance.Lock
	if !flagAllowMultiple {
		l, err := singleinstance.Acquire(filepath.Join(flagDataDir, "tomato.run"))
		if err != nil {
			return fmt.Errorf("acquiring single-instance lock: %w", err)
		}
		lock = l
		defer func() { _ = lock.Release() }()
	}

	app, err := daemon.NewAppContext(daemon.Paths{DataDir: flagDataDir})
	if err != nil {
		return fmt.Errorf("initializing app context: %w", err)
	}
	defer func() { _ = app.Close() }()

	telemetryProvider, err := telemetry.NewProvider(context.Background(), telemetry.Config{
		Enabled:        true,
		ServiceName:    "tomato",
		ServiceVersion: version.Version,
		SamplingRate:   1.0,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = telemetryProvider.Shutdown(context.Background()) }()

	generator := &meteredGenerator{inner: blockgen.New(app.Catalog, nil)}
	logStore := &meteredLogStore{inner: app.Catalog}

	controller := playout.New(playout.Deps{
		Generator:   generator,
		ConfigStore: app.Catalog,
		LogStore:    logStore,
		Sink:        newConsoleSink(),
		MediaDir:    app.Paths.MediaDir(),
	})

	mgr := daemon.NewManager(app, daemon.Config{
		DiagnosticAddr:   os.Getenv("TOMATO_DIAGNOSTIC_ADDR"),
		WatchLocalConfig: true,
	})
	mgr.RegisterShutdownHook("playout", func(ctx context.Context) error {
		controller.Shutdown()
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	logger.Info().Str("event", "main.started").Str("data_dir", flagDataDir).Msg("tomato started")

	runREPL(ctx, controller, mgr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Str("event", "main.shutdown_failed").Msg("shutdown reported errors")
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
