package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/observability"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/variations"
)

var varyCmd = &cobra.Command{
	Use:   "vary [image]",
	Short: "Fan a product out into seeded creative variations",
	Long: `Analyses the product once, then runs script, composition and optimization
concurrently for each creative seed. Pass --run-id instead of an image to reuse
the analysis of a recorded run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVaryCmd,
}

func init() {
	varyCmd.Flags().Int("count", 0, "Number of variations (default: the configured width)")
	varyCmd.Flags().Int("width", 0, "Maximum concurrent variations (1-12)")
	varyCmd.Flags().String("run-id", "", "Reuse the analysis of this recorded run")
	varyCmd.Flags().String("name", "", "Product name hint")
	varyCmd.Flags().String("render-url", "", "Base URL of the video rendering service, for previews")
	varyCmd.Flags().Bool("json", false, "Print the batch result as JSON")
	rootCmd.AddCommand(varyCmd)
}

func runVaryCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID, _ := cmd.Flags().GetString("run-id")
	if (len(args) == 0) == (runID == "") {
		return errors.New("give either an image or --run-id")
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	req := variations.Request{}
	req.Count, _ = cmd.Flags().GetInt("count")
	if runID != "" {
		entry, err := a.history.Get(ctx, runID)
		if err != nil {
			return err
		}
		if req.Analysis, err = history.StoredAnalysis(entry); err != nil {
			return err
		}
		req.ParentRunID = entry.ID
		req.Input.ProductName = entry.Product.Name
		req.Input.Filename = entry.Product.Filename
		req.Input.MIMEType = entry.Product.MIMEType
		req.Input.Tags = entry.Tags
	} else {
		if req.Input, err = readProductImage(args[0]); err != nil {
			return err
		}
		req.Input.ProductName, _ = cmd.Flags().GetString("name")
	}

	s, err := a.buildStack(ctx)
	if err != nil {
		return err
	}
	previews, err := a.renderRunner()
	if err != nil {
		return err
	}
	engine, err := a.variationEngine(s, previews)
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	p := observability.NewPrinter(cmd.OutOrStdout())
	var cb func(variations.Event)
	if !asJSON {
		cb = p.PrintVariationEvent
	}

	res, err := engine.Run(ctx, req, cb)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	p.PrintVariations(res)
	return nil
}
