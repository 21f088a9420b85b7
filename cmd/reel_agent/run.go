package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/observability"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/pipeline"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run <image>",
	Short: "Run the full agent chain for a product photo",
	Long: `Runs analysis -> script -> composition -> optimization for one product photo.
A near-identical photo analysed recently reuses its cached analysis.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunCmd,
}

var retryCmd = &cobra.Command{
	Use:   "retry <run-id>",
	Short: "Re-run a recorded run from a given stage",
	Long: `Starts a new run derived from a recorded one. Results of stages before --stage
are reused; --stage and every later stage are regenerated.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetryCmd,
}

func init() {
	runCmd.Flags().String("name", "", "Product name hint")
	runCmd.Flags().StringSlice("tags", nil, "Tags to attach to the run")
	runCmd.Flags().Bool("json", false, "Print the final run as JSON")
	runCmd.Flags().Bool("strict", false, "Fail runs on out-of-order state transitions")
	rootCmd.AddCommand(runCmd)

	retryCmd.Flags().String("stage", "", "Stage to restart from (name or index)")
	retryCmd.Flags().String("image", "", "Product photo, required when restarting from analysis")
	retryCmd.Flags().Bool("json", false, "Print the final run as JSON")
	retryCmd.Flags().Bool("strict", false, "Fail runs on out-of-order state transitions")
	_ = retryCmd.MarkFlagRequired("stage")
	rootCmd.AddCommand(retryCmd)
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	in, err := readProductImage(args[0])
	if err != nil {
		return err
	}
	in.ProductName, _ = cmd.Flags().GetString("name")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	in.Tags = history.NormalizeTags(tags)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	s, err := a.buildStack(ctx)
	if err != nil {
		return err
	}

	return finishRun(cmd, func(ctx context.Context, cb pipeline.ProgressCallback) (*pipeline.Run, error) {
		return s.runs.Run(ctx, in, cb)
	})
}

func runRetryCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stageFlag, _ := cmd.Flags().GetString("stage")
	from, err := types.ParseStage(stageFlag)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	entry, err := a.history.Get(ctx, args[0])
	if err != nil {
		return err
	}

	var opts []pipeline.RetryOption
	if from == types.StageAnalysis {
		data, mimeType, err := retryImage(cmd, a, entry)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithImage(data, mimeType))
	}

	s, err := a.buildStack(ctx)
	if err != nil {
		return err
	}
	parent := history.RunFromEntry(entry)
	return finishRun(cmd, func(ctx context.Context, cb pipeline.ProgressCallback) (*pipeline.Run, error) {
		return s.runs.Retry(ctx, parent, from, cb, opts...)
	})
}

// retryImage prefers --image over the photo kept in the object store
func retryImage(cmd *cobra.Command, a *app, entry *types.HistoryEntry) ([]byte, string, error) {
	if path, _ := cmd.Flags().GetString("image"); path != "" {
		in, err := readProductImage(path)
		if err != nil {
			return nil, "", err
		}
		return in.Image, in.MIMEType, nil
	}
	if a.objects == nil || entry.Product.Thumbnail == "" {
		return nil, "", pipeline.ErrNoImage
	}
	data, mimeType, err := a.objects.GetProductImage(cmd.Context(), entry.Product.Thumbnail)
	if err != nil {
		return nil, "", err
	}
	if mimeType == "" {
		mimeType = entry.Product.MIMEType
	}
	return data, mimeType, nil
}

// runFunc executes one chain, reporting progress to cb
type runFunc func(ctx context.Context, cb pipeline.ProgressCallback) (*pipeline.Run, error)

// finishRun prints progress unless --json is set, then prints the run
func finishRun(cmd *cobra.Command, exec runFunc) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	p := observability.NewPrinter(cmd.OutOrStdout())

	var (
		run *pipeline.Run
		err error
	)
	events := pipeline.Stream(cmd.Context(), func(ctx context.Context, cb pipeline.ProgressCallback) error {
		run, err = exec(ctx, cb)
		return err
	})
	for ev := range events {
		if !asJSON {
			p.PrintEvent(ev)
		}
	}
	if run == nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(run); encErr != nil {
			return encErr
		}
		return err
	}
	p.PrintRun(run)
	return err
}
