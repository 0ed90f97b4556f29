package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/cmdash"
)

func createServeCommand(globalFlags *GlobalFlags, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cmdash daemon",
		Long: `Start the cmdash daemon: discover modules, serve the dashboard HTTP API
and run builds on demand.

Examples:
  cmdash serve --config cmdash.toml
  cmdash serve --config cmdash.toml --workspace /src/firmware`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(globalFlags.ConfigPath, flags)
		},
	}
	cmd.Flags().StringVar(&flags.WorkspaceRoot, "workspace", "", "workspace root the dashboard roots are relative to (default: cwd)")
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "listen address, overrides [server].listen")
	return cmd
}

func createValidateCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalFlags.ConfigPath == "" {
				return errors.New("--config is required")
			}
			if _, err := cmdash.LoadConfig(globalFlags.ConfigPath); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func runServe(configPath string, flags *ServeFlags) error {
	if configPath == "" {
		return errors.New("--config is required")
	}
	cfg, err := cmdash.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var log *slog.Logger
	if cfg.Log != nil {
		log = cmdash.NewLogger(*cfg.Log)
	} else {
		log = cmdash.NewLogger(cmdash.LogConfig{})
	}
	slog.SetDefault(log)

	if err := cmdash.RegisterMetricsDefault(); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	var sink cmdash.HistorySink
	if cfg.History != nil && cfg.History.Type != "" {
		sink, err = cmdash.NewHistorySink(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
	}

	workspace := flags.WorkspaceRoot
	if workspace == "" {
		workspace, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	settings := cmdash.Settings{
		BuildSystem: cfg.BuildSystem,
		Jobs:        cfg.Jobs,
		MaxParallel: cfg.MaxParallel,
	}
	controllers := make([]*cmdash.Controller, 0, len(cfg.Dashboards))
	for _, dc := range cfg.Dashboards {
		ctrl := cmdash.New(dc, cmdash.Options{
			WorkspaceRoot: workspace,
			Sink:          sink,
			Log:           log,
			Settings:      settings,
		})
		controllers = append(controllers, ctrl)
	}
	defer func() {
		for _, c := range controllers {
			c.Close()
		}
	}()

	// initial discovery runs in the background so the API is up immediately
	for _, c := range controllers {
		go c.Refresh(context.Background())
		if err := c.StartSchedule(cfg.RefreshSchedule); err != nil {
			return err
		}
	}

	if cfg.WatchRoots {
		var roots []string
		for _, dc := range cfg.Dashboards {
			for _, r := range dc.Roots {
				roots = append(roots, filepath.Join(workspace, r))
			}
		}
		w, err := cmdash.NewWatcher(log, roots, func() {
			for _, c := range controllers {
				c.Refresh(context.Background())
			}
		})
		if err != nil {
			log.Warn("root watching disabled", "error", err)
		} else {
			defer func() { _ = w.Close() }()
		}
	}

	listen := cfg.Server.Listen
	if flags.Listen != "" {
		listen = flags.Listen
	}
	srv, err := cmdash.NewHTTPServer(listen, cfg.Server.BasePath, controllers)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info("cmdash serving", "listen", listen, "dashboards", len(controllers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
