package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/crawlytics/governor/internal/governord/api"
	"github.com/crawlytics/governor/internal/governord/config"
	governordmetrics "github.com/crawlytics/governor/internal/governord/metrics"
	"github.com/crawlytics/governor/internal/governord/probe"
	"github.com/crawlytics/governor/pkg/client"
	"github.com/crawlytics/governor/pkg/governor"
	"github.com/crawlytics/governor/pkg/logging"
	"github.com/crawlytics/governor/pkg/metrics"
)

const shutdownTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:        "governord",
		Usage:       "self-adapting request governor daemon",
		Description: "Runs the resilience core with an operator API, Prometheus metrics and an optional synthetic probe workload.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "path to the env file (default .env, missing is fine)",
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "operator API port",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "development logging (console encoder, debug level)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "governord failed:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if err := config.Init(config.CLIConfig{
		ConfigFile: c.String("config"),
		EnvFile:    c.String("env-file"),
		Port:       c.String("port"),
		DevMode:    c.Bool("dev"),
	}); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	logger, err := logging.NewZapLogger(logging.LoggerConfig{
		ProcessName:   logging.GovernorProcess,
		IsDevelopment: config.IsDevMode(),
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	logger.Info("Starting governord...",
		"dev_mode", config.IsDevMode(),
		"port", config.APIPort(),
		"config_file", config.ConfigFilePath(),
	)

	fileCfg := config.File()

	gov, err := governor.New(fileCfg.GovernorConfig(), logger)
	if err != nil {
		return fmt.Errorf("building governor: %w", err)
	}
	gov.Start()
	defer gov.Stop()

	gov.AddAlertCallback(func(alert metrics.Alert) {
		governordmetrics.AlertsTriggered.WithLabelValues(alert.Kind).Inc()
	})
	gov.AddCleanupCallback(func() {
		governordmetrics.CleanupsPerformed.Inc()
	})

	bridge := governordmetrics.NewBridge(gov, 15*time.Second, logger)
	bridge.Start()
	defer bridge.Stop()

	prober, reporter, err := startProbe(fileCfg, gov, logger)
	if err != nil {
		return err
	}
	if prober != nil {
		defer prober.Stop()
	}
	if reporter != nil {
		defer reporter.Stop()
	}

	watcher, err := startWatcher(prober, logger)
	if err != nil {
		return err
	}
	if watcher != nil {
		defer watcher.Stop()
	}

	srv := api.NewServer(api.Config{Port: config.APIPort()}, api.Dependencies{
		Logger:      logger,
		Core:        gov,
		PromHandler: governordmetrics.Handler(),
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("API server error", "error", err)
	case sig := <-shutdown:
		logger.Info("Received shutdown signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("API server shutdown failed", "error", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// startProbe launches the synthetic workload when URLs are configured.
// Without URLs the daemon only governs whatever traffic callers push
// through the API-less library surface, so the probe stays off.
func startProbe(fileCfg *config.FileConfig, gov *governor.Governor, logger logging.Logger) (*probe.Prober, *probe.Reporter, error) {
	if len(fileCfg.Probe.URLs) == 0 {
		logger.Info("No probe URLs configured, probe disabled")
		return nil, nil, nil
	}

	fetcher, err := client.New(client.DefaultConfig(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building HTTP client: %w", err)
	}

	prober, err := probe.NewProber(probe.Config{
		URLs:     fileCfg.Probe.URLs,
		Interval: fileCfg.Probe.Interval.Std(time.Minute),
	}, gov, fetcher, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building prober: %w", err)
	}
	prober.Start()

	reporter, err := probe.NewReporter(gov, fileCfg.Probe.ReportSchedule, fileCfg.Probe.ReportMinutes, logger)
	if err != nil {
		prober.Stop()
		return nil, nil, fmt.Errorf("building reporter: %w", err)
	}
	if err := reporter.Start(); err != nil {
		prober.Stop()
		return nil, nil, err
	}
	return prober, reporter, nil
}

// startWatcher hot-reloads the probe URL set on config file changes. Other
// settings need a restart; swapping live component limits mid-flight is
// more surprising than helpful.
func startWatcher(prober *probe.Prober, logger logging.Logger) (*config.Watcher, error) {
	path := config.ConfigFilePath()
	if path == "" || prober == nil {
		return nil, nil
	}

	watcher, err := config.NewWatcher(path, func(fc *config.FileConfig) {
		prober.SetURLs(fc.Probe.URLs)
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building config watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return nil, fmt.Errorf("starting config watcher: %w", err)
	}
	return watcher, nil
}
