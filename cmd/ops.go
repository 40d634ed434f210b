package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/leadpilot/internal/api/auth"
	"github.com/leadpilot/internal/database"
	"github.com/leadpilot/internal/orchestrator"
)

const opTimeout = 10 * time.Minute

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp loads the configuration, wires the app and runs fn with a bounded context
func withApp(c *cli.Context, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, opTimeout)
	defer cancel()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

// MigrateCommand applies the schema migrations and exits
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			db, err := database.NewDB(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(c.Context, db); err != nil {
				return fmt.Errorf("failed to migrate schema: %w", err)
			}
			fmt.Println("Database schema is up to date")
			return nil
		},
	}
}

// TickCommand runs the hourly orchestrator tick once
func TickCommand() *cli.Command {
	return &cli.Command{
		Name:  "tick",
		Usage: "Run the jobs due in the current hour for every tenant",
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, app *App) error {
				report, err := app.Orchestrator.Tick(ctx)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
}

// JobCommand runs one scheduled job for one tenant right away
func JobCommand() *cli.Command {
	return &cli.Command{
		Name:      "job",
		Usage:     "Run one scheduled job for a tenant",
		ArgsUsage: "JOB (scheduled_sends|followups|ghost_scan|briefing_morning|briefing_evening|reactivation_batch)",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "tenant", Aliases: []string{"t"}, Usage: "Tenant id", Required: true},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("missing required argument: JOB")
			}
			job := orchestrator.Job(c.Args().Get(0))
			return withApp(c, func(ctx context.Context, app *App) error {
				if err := app.Orchestrator.RunJob(ctx, c.Int64("tenant"), job); err != nil {
					return err
				}
				fmt.Printf("Job %s finished for tenant %d\n", job, c.Int64("tenant"))
				return nil
			})
		},
	}
}

// AggregateCommand rolls up learning events and recomputes template quality
func AggregateCommand() *cli.Command {
	return &cli.Command{
		Name:  "aggregate",
		Usage: "Compute daily and weekly learning aggregates",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "tenant", Aliases: []string{"t"}, Usage: "Only this tenant (default: all)"},
			&cli.TimestampFlag{Name: "at", Usage: "Reference time", Layout: "2006-01-02"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, app *App) error {
				now := time.Now().UTC()
				if at := c.Timestamp("at"); at != nil {
					now = at.UTC()
				}
				tenants := []int64{c.Int64("tenant")}
				if !c.IsSet("tenant") {
					all, err := app.Store.ListTenants(ctx)
					if err != nil {
						return err
					}
					tenants = tenants[:0]
					for _, t := range all {
						tenants = append(tenants, t.ID)
					}
				}
				summary := map[int64]map[string]int{}
				for _, id := range tenants {
					daily, err := app.Learning.RunDaily(ctx, id, now)
					if err != nil {
						return fmt.Errorf("tenant %d daily aggregate: %w", id, err)
					}
					weekly, err := app.Learning.RunWeekly(ctx, id, now)
					if err != nil {
						return fmt.Errorf("tenant %d weekly aggregate: %w", id, err)
					}
					templates, err := app.Learning.RecomputeTemplates(ctx, id)
					if err != nil {
						return fmt.Errorf("tenant %d template quality: %w", id, err)
					}
					summary[id] = map[string]int{"daily": len(daily), "weekly": len(weekly), "templates": len(templates)}
				}
				return printJSON(summary)
			})
		},
	}
}

// ReactivateCommand runs the reactivation graph for one lead or a dormant batch
func ReactivateCommand() *cli.Command {
	return &cli.Command{
		Name:  "reactivate",
		Usage: "Run the reactivation agent",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "tenant", Aliases: []string{"t"}, Usage: "Tenant id", Required: true},
			&cli.StringFlag{Name: "lead", Aliases: []string{"l"}, Usage: "Lead id (default: dormant batch)"},
			&cli.StringFlag{Name: "resume", Usage: "Resume the run with this id"},
			&cli.IntFlag{Name: "min-days", Usage: "Days without contact before a lead counts as dormant"},
			&cli.IntFlag{Name: "max-leads", Usage: "Batch size", Value: 10},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, app *App) error {
				tenantID := c.Int64("tenant")
				switch {
				case c.String("resume") != "":
					run, err := app.Agent.Resume(ctx, tenantID, c.String("resume"))
					if run == nil {
						return err
					}
					return printJSON(run)
				case c.String("lead") != "":
					run, err := app.Agent.Run(ctx, tenantID, c.String("lead"))
					if run == nil {
						return err
					}
					return printJSON(run)
				}
				minDays := c.Int("min-days")
				if minDays <= 0 {
					minDays = app.Config.Reactivation.DormantAfterDays
				}
				results, err := app.Agent.ReactivateDormant(ctx, tenantID, minDays, c.Int("max-leads"))
				if err != nil {
					return err
				}
				return printJSON(results)
			})
		},
	}
}

// TokenCommand issues an API token for a tenant user
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue an API access token",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "tenant", Aliases: []string{"t"}, Usage: "Tenant id", Required: true},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User id", Required: true},
			&cli.StringFlag{Name: "lang", Usage: "Preferred message language", Value: "de"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			token, expires, err := auth.NewTokenService(cfg.Server.JWTSecret).Issue(c.Int64("tenant"), c.String("user"), c.String("lang"))
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}
			return printJSON(map[string]any{"token": token, "expires_at": expires})
		},
	}
}
