package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/sitegate/internal/devserver"
	"github.com/sitegate/internal/logging"
)

// DevServerCommand returns the CLI command for starting the development backend
func DevServerCommand() *cli.Command {
	return &cli.Command{
		Name:  "devserver",
		Usage: "Start an in-memory development backend serving the site API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the development server (default from devserver.port)",
			},
			&cli.Float64Flag{
				Name:  "rate-limit",
				Usage: "Requests per second allowed per client, 0 disables",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log, os.Stderr)

			port := cfg.DevServer.Port
			if c.IsSet("port") {
				port = c.Int("port")
			}

			var origins []string
			if cfg.Site.URL != "" {
				origins = append(origins, cfg.Site.URL)
			}

			server, err := devserver.NewServer(devserver.Options{
				Port:         port,
				Secret:       cfg.DevServer.Secret,
				RateLimit:    c.Float64("rate-limit"),
				AllowOrigins: origins,
				Logger:       &logger,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "Starting development server on port %d...\n", port)
			for _, acc := range devserver.DefaultAccounts() {
				fmt.Fprintf(c.App.Writer, "  %-20s %-10s role=%s verified=%t\n", acc.Email, acc.Password, acc.Role, acc.Verified)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Start(ctx)
		},
	}
}
