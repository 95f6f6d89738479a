package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/sitegate/internal/dashboard"
	"github.com/sitegate/internal/retry"
	"github.com/sitegate/internal/session"
)

func newDashboard(rt *Runtime) *dashboard.Service {
	logger := rt.Logger
	return dashboard.NewService(dashboard.Options{
		Client:     rt.Client,
		Gate:       rt.Gate,
		PostsPath:  rt.Config.Endpoints.AdminPosts,
		HealthPath: rt.Config.Endpoints.Health,
		PerPage:    rt.Config.Dashboard.PerPage,
		Retry: retry.Config{
			MaxRetries: rt.Config.Retry.MaxRetries,
			BaseDelay:  rt.Config.Retry.BaseDelay,
			MaxDelay:   rt.Config.Retry.MaxDelay,
			Multiplier: rt.Config.Retry.Multiplier,
			Jitter:     rt.Config.Retry.Jitter,
		},
		Events: rt.Events,
		Logger: &logger,
	})
}

// DashboardCommand shows the admin dashboard
func DashboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Show the admin dashboard (administrators only)",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the dashboard data as JSON",
			},
		},
		Action: withRuntime(runDashboard),
	}
}

func runDashboard(c *cli.Context, rt *Runtime) error {
	view := rt.Navigate(c, "/"+rt.Config.Site.DefaultLocale+"/dashboard")
	out := c.App.Writer

	data := newDashboard(rt).Load(view.Context(), view.Path())
	switch data.Outcome.Decision {
	case session.Redirect:
		printOutcome(c, view.Path(), data.Outcome)
		return nil
	case session.AccessDenied:
		rt.Notifier.Error("dashboard.accessDenied", "")
		return nil
	}

	if c.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	fmt.Fprintf(out, "Signed in as %s\n", data.Outcome.User.Username)
	fmt.Fprintf(out, "API: %s\n", data.APIStatus)
	if data.PostsError != "" {
		rt.Notifier.Error(data.PostsError, "")
		return nil
	}

	fmt.Fprintf(out, "Posts: %d\n\n", data.TotalPosts)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSLUG\tAUTHOR\tCATEGORY\tCOMMENTS\tCREATED\tTAGS")
	for _, p := range data.Posts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			p.ID, p.Slug, p.Author, p.Category, p.CommentCount,
			p.CreatedAt.Format("2006-01-02"), strings.Join(p.Tags, ","))
	}
	return w.Flush()
}

// HealthCommand probes the API
func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check whether the API is reachable",
		Action: withRuntime(func(c *cli.Context, rt *Runtime) error {
			view := rt.Navigate(c, "/"+rt.Config.Site.DefaultLocale+"/")
			status := newDashboard(rt).Health(view.Context())
			fmt.Fprintf(c.App.Writer, "API %s: %s\n", rt.Client.BaseURL(), status)
			if status != dashboard.StatusConnected {
				return cli.Exit("", 1)
			}
			return nil
		}),
	}
}
