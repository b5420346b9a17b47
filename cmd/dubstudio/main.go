package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dubstudio/internal/api"
	"dubstudio/pkg/config"
	"dubstudio/pkg/db/maintenance"
	"dubstudio/pkg/logging"
	"dubstudio/pkg/pipeline"
	"dubstudio/pkg/tts"
	"dubstudio/pkg/version"
)

const defaultConfigPath = "configs/dubstudio.yaml"

var (
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

func main() {
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	var err error
	if flag.Arg(0) == "render" {
		err = runRender(context.Background(), *configPath, flag.Args()[1:], os.Stdout)
	} else {
		err = run(context.Background(), *configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and starts logging. The returned cleanup
// closes the log files.
func setup(path string) (*config.Config, func(), error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	tts.SetLogPath(cfg.Log.Synthesis.Path)
	return cfg, cleanupLogs, nil
}

func run(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, cleanupLogs, err := setup(path)
	if err != nil {
		return err
	}
	defer cleanupLogs()

	slog.Info("Starting dubstudio", "version", version.Version, "config", path)

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	maintenance.Run(ctx, app.Store, app.DB, maintenance.Settings{
		CacheTTL: time.Duration(cfg.DB.CacheTTL),
		JobTTL:   time.Duration(cfg.DB.JobTTL),
	})

	jobs := pipeline.NewManager(app.Service, app.Store, cfg.Server.OutputDir, cfg.Server.MaxJobs, app.Active)
	defer jobs.Shutdown()

	settings := config.NewProvider(cfg, app.Store)
	srv := api.NewServer(cfg.Server.Address, api.Handlers{
		Jobs:     api.NewJobsHandler(jobs, app.Engines).WithDefaults(settings),
		Script:   api.NewScriptHandler(app.Parser),
		Voices:   api.NewVoiceHandler(app.Voices, app.Engines, app.Active),
		Settings: api.NewSettingsHandler(app.Store, settings, app.Engines),
		Stats:    api.NewStatsHandler(app.Tracker, cfg.Engines.Primary, app.Chains),
		Health:   api.NewHealthHandler(app.Probes),
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	return runServerLifecycle(ctx, srv, quit)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
