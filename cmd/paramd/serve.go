package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/paramd/pkg/api"
	"github.com/cuemby/paramd/pkg/config"
	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/metrics"
	"github.com/cuemby/paramd/pkg/param"
	"github.com/cuemby/paramd/pkg/security"
	"github.com/cuemby/paramd/pkg/storage"
	"github.com/cuemby/paramd/pkg/watcher"
	"github.com/cuemby/paramd/pkg/workspace"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the parameter service",
	Long: `Run the parameter service.

The daemon builds the shared workspace, loads the default parameter
sources in order, replays persisted parameters, and only then publishes the
workspace at its path for direct readers. It serves the API, watcher and
metrics endpoints until it receives SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("workspace", "", "Workspace file path")
	serveCmd.Flags().String("watcher-socket", "", "Watcher socket path")
	serveCmd.Flags().String("data-dir", "", "Data directory for persisted parameters")
	serveCmd.Flags().String("metrics-addr", "", "Address for health and metrics HTTP endpoints")
	serveCmd.Flags().Bool("recovery", false, "Skip unavailable security checkers instead of denying")
	serveCmd.Flags().Bool("read-only", false, "Reject writes on the API socket")
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("workspace"); v != "" {
		cfg.Workspace.Path = v
	}
	if v, _ := cmd.Flags().GetString("watcher-socket"); v != "" {
		cfg.Watcher.Socket = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = cmd.Flags().GetString("metrics-addr")
	}
	if v, _ := cmd.Flags().GetBool("recovery"); v {
		cfg.Security.Recovery = true
	}
	if v, _ := cmd.Flags().GetBool("read-only"); v {
		cfg.API.ReadOnly = true
	}
}

// newDispatcher builds the DAC and label checkers from the config
func newDispatcher(cfg *config.Config) (*security.Dispatcher, *security.LabelChecker) {
	dac := security.NewDACChecker(cfg.Security.DACFile)
	label := security.NewLabelChecker(cfg.Security.LabelBackend, security.BackendOptions{
		PolicyFile: cfg.Security.PolicyFile,
	})
	return security.NewDispatcher(cfg.Security.Recovery, dac, label), label
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	// staged until the defaults and persisted values are loaded
	ws, err := workspace.Stage(cfg.Workspace.Path, cfg.Workspace.Capacity)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	defer ws.Close()

	dispatcher, labels := newDispatcher(cfg)
	defer dispatcher.Close()
	labels.UseNodeLabels(ws.NodeLabelRef)
	if err := dispatcher.Init(); err != nil {
		// unavailable checkers deny until a later check loads them
		logger.Warn().Err(err).Msg("security policy incomplete")
	}
	metrics.RegisterProbe("security", dispatcher.Ready)

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open parameter journal: %w", err)
	}

	svc, err := param.NewService(param.Config{
		Workspace:   ws,
		Permissions: dispatcher,
		Labels:      labels,
		Store:       store,
	})
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create parameter service: %w", err)
	}
	defer svc.Close()

	loaded, err := svc.LoadDefaults(cfg.Sources)
	if err != nil {
		logger.Warn().Err(err).Msg("some parameter sources failed to load")
	}
	restored, err := svc.LoadPersisted()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to replay persisted parameters")
	}
	logger.Info().Int("defaults", loaded).Int("persisted", restored).Msg("parameters loaded")

	if err := ws.Publish(); err != nil {
		return err
	}
	metrics.RegisterComponent("workspace", true, "")
	logger.Info().
		Str("path", cfg.Workspace.Path).
		Uint32("capacity", cfg.Workspace.Capacity).
		Uint32("used", ws.Used()).
		Msg("workspace published")

	watchSrv, err := watcher.NewServer(watcher.ServerConfig{
		SocketPath: cfg.Watcher.Socket,
		Authorizer: dispatcher,
		Broker:     svc.Broker(),
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher server: %w", err)
	}
	if err := watchSrv.Start(); err != nil {
		return fmt.Errorf("failed to start watcher server: %w", err)
	}
	defer watchSrv.Stop()
	metrics.RegisterComponent("watcher", true, "")

	apiSrv, err := api.NewServer(svc, api.ServerConfig{
		SocketPath: cfg.API.Socket,
		ReadOnly:   cfg.API.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	if err := apiSrv.Listen(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	collector := metrics.NewCollector(svc, 0)
	collector.Start()
	defer collector.Stop()

	health := api.NewHealthServer(svc, Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := apiSrv.Serve(); err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("health and metrics listening")
			if err := health.Start(cfg.Metrics.Addr); err != nil {
				return fmt.Errorf("health server error: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		apiSrv.Stop()
		return health.Shutdown(shutdownCtx)
	})

	logger.Info().
		Str("api", cfg.API.Socket).
		Str("watcher", cfg.Watcher.Socket).
		Bool("recovery", cfg.Security.Recovery).
		Msg("paramd is running")

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
