package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/leadpilot/internal/api"
	"github.com/leadpilot/internal/api/auth"
	"github.com/leadpilot/internal/capture"
	"github.com/leadpilot/internal/logging"
)

const shutdownTimeout = 30 * time.Second

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the LeadPilot API server with the autopilot workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
			&cli.DurationFlag{
				Name:  "webhook-wait",
				Usage: "How long a webhook waits for the pipeline before answering queued",
				Value: api.DefaultOptions().WebhookWait,
			},
			&cli.StringFlag{
				Name:    "capture-dir",
				Usage:   "Record raw webhook payloads and their parsed form below `DIR`",
				EnvVars: []string{"LEADPILOT_CAPTURE_DIR"},
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	logger := logging.For("cmd")
	if dir := c.String("capture-dir"); dir != "" {
		capture.Enable(dir)
		logger.Info().Str("dir", dir).Msg("webhook capture enabled")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	stopJobs, err := app.StartJobs(ctx)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := stopJobs(sctx); err != nil {
			logger.Warn().Err(err).Msg("job shutdown incomplete")
		}
	}()

	port := cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}
	opts := api.DefaultOptions()
	opts.WebhookWait = c.Duration("webhook-wait")
	opts.DormantAfterDays = cfg.Reactivation.DormantAfterDays

	server := api.NewServer(port, api.Deps{
		Store:       app.Store,
		Router:      app.Router,
		Inbound:     app.Pool,
		Briefer:     app.Orchestrator,
		Learning:    app.Learning,
		Reactivator: app.Agent,
		Sender:      app.Sender,
		Bus:         app.Bus,
		Tokens:      auth.NewTokenService(cfg.Server.JWTSecret),
	}, opts)

	logger.Info().Int("port", port).Msg("starting leadpilot api server")
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	logger.Info().Msg("api server stopped")
	return nil
}
