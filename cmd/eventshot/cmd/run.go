package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/eventshot/internal/config"
	"github.com/MeKo-Tech/eventshot/internal/orchestrator"
	"github.com/MeKo-Tech/eventshot/internal/pipeline"
	"github.com/MeKo-Tech/eventshot/internal/server"
	"github.com/MeKo-Tech/eventshot/internal/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the inbound directory and process photos until interrupted",
	Long: `Run the pipeline as a long-lived service. New files in the inbound
directory are discovered, backed up, enhanced, cropped, watermarked and
delivered. SIGINT or SIGTERM starts a graceful shutdown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("serve") {
			cfg.Server.Enabled, _ = cmd.Flags().GetBool("serve")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runService(ctx, cfg, slog.Default())
	},
}

func init() {
	runCmd.Flags().Bool("serve", false, "enable the HTTP status server")
	rootCmd.AddCommand(runCmd)
}

// runService runs the orchestrator and, when enabled, the status server until
// ctx is cancelled.
func runService(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	observers := orchestrator.MultiObserver{orchestrator.LogObserver{Logger: logger}}
	opts := []orchestrator.Option{
		orchestrator.WithBackup(cfg.Directories),
		orchestrator.WithArchiver(comps.archiver),
		orchestrator.WithStats(orchestrator.NewPrometheusStats(nil)),
		orchestrator.WithLogger(logger),
	}

	if cfg.Discovery.Watch {
		n, err := orchestrator.NewNotifier(cfg.Directories.Inbound, logger)
		if err != nil {
			return pipeline.NewFatalStartup("watcher", err)
		}
		defer func() { _ = n.Close() }()
		go n.Run(ctx)
		opts = append(opts, orchestrator.WithTrigger(n.C()))
	}

	// The server needs the orchestrator for status and the orchestrator needs
	// the hub as an observer, so the status source is bound late.
	status := &lateStatus{}
	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.NewServer(cfg.Server, status, version.Version, logger)
		observers = append(observers, srv.Hub())
	}
	opts = append(opts, orchestrator.WithObserver(observers))

	src := orchestrator.NewDirSource(cfg.Directories.Inbound, cfg.Discovery.Settle)
	orch, err := orchestrator.New(cfg.ToOrchestratorConfig(), src, comps.processor, comps.deliverer, opts...)
	if err != nil {
		return err
	}
	status.src = orch

	g, gctx := errgroup.WithContext(ctx)
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		rep, err := orch.Run(gctx)
		logger.Info("Run finished",
			"delivered", rep.Stats.Delivered,
			"failed", rep.Stats.Failed,
			"abandoned", rep.Stats.Abandoned,
			"hard_stopped", rep.HardStopped,
			"duration", rep.Duration())
		return err
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// lateStatus forwards to a StatusSource set after construction.
type lateStatus struct {
	src server.StatusSource
}

func (l *lateStatus) Stats() orchestrator.StatsSnapshot { return l.src.Stats() }
func (l *lateStatus) Items() []orchestrator.WorkItem    { return l.src.Items() }
func (l *lateStatus) Active() int                       { return l.src.Active() }
