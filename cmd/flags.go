package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// GlobalFlags are the flags shared by every command
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Load configuration from `FILE`",
			EnvVars: []string{"SITEGATE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "Load environment variables from a dotenv `FILE` before reading the configuration",
		},
		&cli.StringFlag{
			Name:  "page",
			Usage: "Site page the command acts on, e.g. /pl/verify-email?email=a@b.com&code=123456",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
		},
	}
}

// Commands returns every top-level command
func Commands() []*cli.Command {
	return []*cli.Command{
		WhoamiCommand(),
		GateCommand(),
		LoginCommand(),
		LogoutCommand(),
		VerifyCommand(),
		ResendCommand(),
		CommentsCommand(),
		ReplyCommand(),
		DashboardCommand(),
		HealthCommand(),
		ConfigCommand(),
		DevServerCommand(),
	}
}

// Before loads the --env-file, if any
func Before(c *cli.Context) error {
	if path := c.String("env-file"); path != "" {
		if err := LoadEnvFile(path, false); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}
	return nil
}
