package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaoscope/chaoscope/config"
	"github.com/chaoscope/chaoscope/pkg/diag"
	"github.com/chaoscope/chaoscope/pkg/experiment"
	"github.com/chaoscope/chaoscope/pkg/feed"
	"github.com/chaoscope/chaoscope/pkg/lifecycle"
	"github.com/chaoscope/chaoscope/pkg/logger"
	"github.com/chaoscope/chaoscope/pkg/metrics"
	"github.com/chaoscope/chaoscope/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	provider  = flag.String("provider", "", "Override tracing provider")
	endpoint  = flag.String("endpoint", "", "Override tracing endpoint")
	logLevel  = flag.String("log-level", "", "Override log level")
	debugMode = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	args := flag.Args()
	if len(args) != 2 || args[0] != "replay" {
		printHelp()
		os.Exit(2)
	}

	if err := run(cfg, log, args[1]); err != nil {
		log.Error("Replay failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger, journalPath string) error {
	journal, err := experiment.LoadJournal(journalPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	session, err := lifecycle.NewSession(ctx, cfg.Tracing, cfg.App.Name, cfg.App.Version, log)
	if err != nil {
		return err
	}

	log.Info("Starting Chaoscope replay",
		"version", version.Version,
		"journal", journalPath,
		"provider", cfg.Tracing.Provider,
	)

	var metricsManager *metrics.Manager
	if cfg.Metrics.Enabled {
		metricsManager = metrics.NewManager(metrics.DefaultConfig())
		session.Registry().Register(metrics.NewHandler(metricsManager))
	}

	var (
		broadcaster *feed.Broadcaster
		wsHandler   *feed.WebSocketHandler
		redisPub    *feed.RedisPublisher
	)
	if cfg.Feed.Enabled {
		broadcaster = feed.NewBroadcaster(cfg.Feed.Buffer)
		session.Registry().Register(feed.NewHandler(broadcaster))
		if cfg.Feed.Redis.Enabled {
			redisPub = feed.NewRedisPublisher(cfg.Feed.Redis, broadcaster, log)
			defer func() {
				if err := redisPub.Close(); err != nil {
					log.Error("Error closing redis publisher", "error", err)
				}
			}()
		}
	}

	var server *diag.Server
	serverErrChan := make(chan error, 1)
	if cfg.Diag.Enabled {
		if broadcaster != nil {
			wsHandler = feed.NewWebSocketHandler(log, feed.WebSocketConfig{
				AllowedOrigins: cfg.Diag.AllowedOrigins,
			}, broadcaster)
		}
		server = diag.NewServer(cfg.Diag, log, diag.Options{
			Version: version.Version,
			Metrics: metricsManager,
			Archive: session.Provider().Archive(),
			Feed:    wsHandler,
		})
		go func() {
			if err := server.Start(); err != nil {
				serverErrChan <- err
			}
		}()
	}

	replayErrChan := make(chan error, 1)
	go func() {
		replayErrChan <- lifecycle.Replay(session.Registry(), journal, map[string]any{
			"replayed_from": journalPath,
		})
	}()

	replayErr := waitForReplay(ctx, log, session, replayErrChan, serverErrChan, sigChan)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Diag.ShutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down diagnostics server", "error", err)
		}
	}
	if broadcaster != nil {
		broadcaster.Close()
	}

	if err := session.Close(shutdownCtx); err != nil {
		log.Error("Error closing session", "error", err)
	}
	if replayErr != nil {
		return replayErr
	}

	log.Info("Replay complete")
	return nil
}

// waitForReplay blocks until the replay finishes, the diagnostics
// server fails, or a termination signal arrives. A signal is relayed
// to the session so the trace records the interruption.
func waitForReplay(ctx context.Context, log logger.Logger, session *lifecycle.Session, replayErrChan, serverErrChan chan error, sigChan chan os.Signal) error {
	select {
	case err := <-replayErrChan:
		return err
	case err := <-serverErrChan:
		log.Error("Diagnostics server error", "error", err)
		return err
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
		session.Registry().SignalExit()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *provider != "" {
		overrides["tracing.provider"] = *provider
		overrides["tracing.enabled"] = true
	}
	if *endpoint != "" {
		overrides["tracing.endpoint"] = *endpoint
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("Chaoscope - Chaos Experiment Tracing\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("Chaoscope - distributed tracing for chaos experiments\n\n")
	fmt.Printf("Usage: chaoscope [options] replay <journal.json>\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  chaoscope replay journal.json                       # Replay with default config\n")
	fmt.Printf("  chaoscope -config chaoscope.yaml replay journal.json\n")
	fmt.Printf("  chaoscope -provider stdout replay journal.json      # Dump spans to stdout\n")
	fmt.Printf("  chaoscope -version                                  # Print version info\n")
}
