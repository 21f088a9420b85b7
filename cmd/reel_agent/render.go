package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/observability"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

var renderCmd = &cobra.Command{
	Use:   "render <run-id>",
	Short: "Render every shot of a recorded run",
	Long:  `Submits each shot of the run's composition to the video rendering service and waits for all jobs to settle.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRenderCmd,
}

func init() {
	renderCmd.Flags().String("render-url", "", "Base URL of the video rendering service")
	rootCmd.AddCommand(renderCmd)
}

func runRenderCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	runner, err := a.renderRunner()
	if err != nil {
		return err
	}
	if runner == nil {
		return errors.New("no rendering service configured: set render.base_url or --render-url")
	}

	entry, err := a.history.Get(ctx, args[0])
	if err != nil {
		return err
	}
	shots, err := history.CompositionShots(entry)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	jobs := runner.RenderShots(ctx, shots, func(job types.RenderJob) {
		_, _ = fmt.Fprintf(out, "  shot %d: %s\n", job.ShotIndex, job.Status)
	})

	recorder := history.NewRecorder(a.history, cfg.Pricing, logger)
	if err := recorder.AddRenderCost(ctx, entry.ID, jobs); err != nil {
		logger.Warn("failed to record render cost", "run_id", entry.ID, "error", err)
	}
	observability.NewPrinter(out).PrintRenderJobs(jobs)

	failed := 0
	for _, job := range jobs {
		if job.Status != types.RenderStatusDone {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d shots failed to render", failed, len(jobs))
	}
	return nil
}
