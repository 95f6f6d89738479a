package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/sitegate/internal/apiclient"
	"github.com/sitegate/internal/config"
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
						Value:   "sitegate.toml",
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
				Name:   "show",
				Usage:  "Print the effective configuration with secrets masked",
				Action: runConfigShow,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Created configuration file at %s\n", outputPath)
	fmt.Fprintln(out, "Sections:")
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, section := range config.SampleSections() {
		override := config.EnvPrefix + strings.ToUpper(section) + "__*"
		if section == "messages" {
			override = "file only"
		}
		fmt.Fprintf(tw, "  [%s]\t%s\n", section, override)
	}
	return tw.Flush()
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	baseURL, err := apiclient.ResolveBaseURL(cfg.Site.URL, cfg.Site.APIURL)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := c.App.Writer
	fmt.Fprintln(out, "Configuration is valid")
	fmt.Fprintf(out, "  API: %s\n", baseURL)
	fmt.Fprintf(out, "  Locales: %s (default %s)\n", strings.Join(cfg.Site.Locales, ", "), cfg.Site.DefaultLocale)
	fmt.Fprintf(out, "  State: %s\n", cfg.State.Path)
	return nil
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.DevServer.Secret = maskSecret(cfg.DevServer.Secret)

	out := c.App.Writer
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return err
	}

	PrintEnvOverrides(out, EnvOverrides())
	return nil
}
