// Package main is the entry point for the avauthn forward-auth service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/avauthn/internal/config"
	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	address     string
	showVersion bool
}

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	flags := parseFlags(flag.CommandLine, os.Args[1:], settings)
	if flags.showVersion {
		printVersion()
		return
	}

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "avauthn: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args with defaults taken from the environment settings.
func parseFlags(fs *flag.FlagSet, args []string, s config.Settings) cliFlags {
	var f cliFlags
	fs.StringVar(&f.configPath, "config", s.ConfigPath, "Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", s.LogLevel, "Log level override (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", s.LogFormat, "Log format override (json, console)")
	fs.StringVar(&f.address, "listen", s.Address, "Listen address override")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	_ = fs.Parse(args)
	return f
}

func (f cliFlags) settings() config.Settings {
	return config.Settings{
		ConfigPath: f.configPath,
		LogLevel:   f.logLevel,
		LogFormat:  f.logFormat,
		Address:    f.address,
	}
}

func printVersion() {
	fmt.Printf("avauthn version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// loadConfig resolves, loads and overrides the configuration file.
func loadConfig(f cliFlags) (string, *config.Config, error) {
	path, err := config.ResolveConfigPath(f.configPath)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return "", nil, err
	}
	f.settings().Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return "", nil, err
	}
	return path, cfg, nil
}

func run(f cliFlags) error {
	path, cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	observability.SetGlobalLogger(logger)

	logger.Info("starting avauthn",
		observability.String("version", version),
		observability.String("config", path),
		observability.Bool("jwt", cfg.Auth.IsJWTEnabled()),
		observability.Bool("apiKey", cfg.Auth.IsAPIKeyEnabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	watcher := startConfigWatcher(ctx, app, path, f.settings())

	errCh := make(chan error, 1)
	go func() { errCh <- app.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err = <-errCh:
		logger.Error("server stopped unexpectedly", observability.Error(err))
	}

	if watcher != nil {
		_ = watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if shutdownErr := app.shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("shutdown incomplete", observability.Error(shutdownErr))
	}

	logger.Info("avauthn stopped")
	return err
}

// startConfigWatcher reloads the auth engine whenever the file changes.
// Flag and environment overrides are applied to every reload.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	path string,
	overrides config.Settings,
) *config.Watcher {
	logger := app.logger.With(observability.String("component", "config"))

	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
		overrides.Apply(cfg)
		start := time.Now()
		if err := app.reload(ctx, cfg); err != nil {
			logger.Error("failed to reload auth engine", observability.Error(err))
			return
		}
		logger.Info("configuration applied", observability.Duration("duration", time.Since(start)))
	},
		config.WithLogger(logger),
		config.WithErrorCallback(func(error) { app.registry.RecordReload(false) }),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}

	return watcher
}
