package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/server"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/server/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Start an HTTP server that streams run, variation and render progress over Server-Sent Events and manages the run history.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (default 8080)")
	serveCmd.Flags().Int("width", 0, "Maximum concurrent variations (1-12)")
	serveCmd.Flags().Bool("strict", false, "Fail runs on out-of-order state transitions")
	serveCmd.Flags().String("render-url", "", "Base URL of the video rendering service")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.buildStack(ctx)
	if err != nil {
		return err
	}
	renderer, err := a.renderRunner()
	if err != nil {
		return err
	}
	engine, err := a.variationEngine(s, renderer)
	if err != nil {
		return err
	}

	deps := server.Deps{
		Runs:        s.runs,
		Variations:  engine,
		RenderCosts: s.recorder,
		History:     a.history,
		Checks:      a.checks,
		Logger:      logger,
	}
	if renderer != nil {
		deps.Renderer = renderer
	} else {
		logger.Info("no rendering service configured; render endpoint disabled")
	}
	if a.objects != nil {
		deps.Images = a.objects
	}

	srv := server.New(server.Config{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		RateLimit:       ratelimit.NewConfig(cfg.Server.RateLimit, cfg.Server.RateBurst),
	}, deps)
	defer srv.Close()

	return srv.Serve(ctx)
}
