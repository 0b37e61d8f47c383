package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/eventshot/internal/config"
	"github.com/MeKo-Tech/eventshot/internal/orchestrator"
)

var processCmd = &cobra.Command{
	Use:   "process [files or directories...]",
	Short: "Process a fixed set of photos and exit",
	Long: `Process the given files and directories once through the full pipeline
and exit when every item is delivered or failed. Output goes to the configured
output directory unless --output is given.

Examples:
  eventshot process shot.jpg
  eventshot process shots/ --recursive --include '*.jpg'
  eventshot process shots/ --workers 8 --output prints/`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		if err := applyProcessFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		recursive, _ := cmd.Flags().GetBool("recursive")
		include, _ := cmd.Flags().GetStringSlice("include")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		noProgress, _ := cmd.Flags().GetBool("no-progress")

		var progress io.Writer = os.Stderr
		if noProgress {
			progress = nil
		}
		src := orchestrator.NewStaticSource(args, recursive, include, exclude)
		rep, err := processFiles(ctx, cfg, src, progress, slog.Default())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Processed %d photos in %s: %d delivered, %d failed, %d abandoned, %d retries\n",
			rep.Stats.Discovered, rep.Duration().Round(time.Millisecond), rep.Stats.Delivered,
			rep.Stats.Failed, rep.Stats.Abandoned, rep.Stats.Retried)
		if rep.Stats.Failed > 0 || rep.Stats.Abandoned > 0 {
			return errItemsFailed
		}
		return nil
	},
}

func init() {
	processCmd.Flags().BoolP("recursive", "r", false, "process directories recursively")
	processCmd.Flags().StringSlice("include", nil, "only process files matching these glob patterns")
	processCmd.Flags().StringSlice("exclude", nil, "skip files matching these glob patterns")
	processCmd.Flags().IntP("workers", "w", 0, "number of parallel workers (default from config)")
	processCmd.Flags().StringP("output", "o", "", "output directory (default from config)")
	processCmd.Flags().Bool("no-face", false, "disable face protection")
	processCmd.Flags().String("mode", "", "enhancement mode (auto, remote-only, local-only, disabled)")
	processCmd.Flags().Bool("no-progress", false, "disable the progress bar")
	rootCmd.AddCommand(processCmd)
}

// applyProcessFlags overrides config values with flags the user set.
func applyProcessFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		n, err := flags.GetInt("workers")
		if err != nil {
			return err
		}
		cfg.Workers.Count = n
	}
	if flags.Changed("output") {
		cfg.Directories.Output, _ = flags.GetString("output")
	}
	if flags.Changed("no-face") {
		off, _ := flags.GetBool("no-face")
		cfg.Face.Enabled = !off
	}
	if flags.Changed("mode") {
		cfg.Enhancement.Mode, _ = flags.GetString("mode")
	}
	// A one-shot run always finishes the work it was given.
	cfg.Shutdown.Drain = true
	return nil
}

// processFiles runs src through the pipeline until it is exhausted. A progress
// bar is written to progress when it is non-nil.
func processFiles(ctx context.Context, cfg *config.Config, src *orchestrator.StaticSource,
	progress io.Writer, logger *slog.Logger,
) (orchestrator.Report, error) {
	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return orchestrator.Report{}, err
	}
	defer comps.Close()

	observers := orchestrator.MultiObserver{orchestrator.LogObserver{Logger: logger}}
	var source orchestrator.Source = src
	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Processing photos"),
			progressbar.OptionSetWriter(progress),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		source = &countingSource{StaticSource: src, onScan: bar.ChangeMax}
		observers = append(observers, progressObserver{bar: bar})
	}

	orch, err := orchestrator.New(cfg.ToOrchestratorConfig(), source, comps.processor, comps.deliverer,
		orchestrator.WithBackup(cfg.Directories),
		orchestrator.WithArchiver(comps.archiver),
		orchestrator.WithObserver(observers),
		orchestrator.WithLogger(logger),
	)
	if err != nil {
		return orchestrator.Report{}, err
	}

	rep, err := orch.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	return rep, err
}

// countingSource reports the number of discovered files so the progress bar
// has a total.
type countingSource struct {
	*orchestrator.StaticSource
	onScan func(int)
}

func (c *countingSource) Scan(ctx context.Context) ([]orchestrator.Candidate, error) {
	cands, err := c.StaticSource.Scan(ctx)
	if err == nil && len(cands) > 0 {
		c.onScan(len(cands))
	}
	return cands, err
}

type progressObserver struct {
	bar *progressbar.ProgressBar
}

func (p progressObserver) OnTransition(t orchestrator.Transition) {
	if t.To.Terminal() || t.Outcome == orchestrator.OutcomeAbandoned {
		_ = p.bar.Add(1)
	}
}
