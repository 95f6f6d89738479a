package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/sitegate/cmd"
	"github.com/sitegate/internal/config"
)

func main() {
	app := &cli.App{
		Name:     "sitegate",
		Usage:    "Session-aware client for the blog site: sign in, verify email, reply to comments, admin dashboard",
		Version:  config.Version,
		Flags:    cmd.GlobalFlags(),
		Before:   cmd.Before,
		Commands: cmd.Commands(),
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
