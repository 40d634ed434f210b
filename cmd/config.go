package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/leadpilot/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "leadpilot.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
			{
				Name:   "check",
				Usage:  "Show which environment overrides are set",
				Action: runConfigCheck,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	fmt.Printf("Configuration is valid (llm: %s/%s, jobs: %v, kafka: %v, redis: %v)\n",
		cfg.LLM.Provider, cfg.LLM.Model, cfg.Jobs.Enabled, cfg.Kafka.Enabled, cfg.Redis.Enabled)
	return nil
}

func runConfigCheck(c *cli.Context) error {
	PrintConfigCheck(CheckRequiredConfig())
	return nil
}
