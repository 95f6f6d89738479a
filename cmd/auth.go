package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/sitegate/internal/session"
)

// WhoamiCommand reports the identity behind the stored session
func WhoamiCommand() *cli.Command {
	return &cli.Command{
		Name:   "whoami",
		Usage:  "Show the signed-in user and the header navigation state",
		Action: withRuntime(runWhoami),
	}
}

func runWhoami(c *cli.Context, rt *Runtime) error {
	view := rt.Navigate(c, "/"+rt.Config.Site.DefaultLocale+"/")
	out := c.App.Writer

	user := rt.Verifier.VerifySession(view.Context())
	if user == nil {
		fmt.Fprintln(out, "Not signed in")
	} else {
		fmt.Fprintf(out, "Signed in as %s (id %d, role %s)\n", user.Username, user.ID, roleOrNone(user.RoleName()))
	}

	nav := rt.Gate.Nav(view.Context())
	fmt.Fprintf(out, "Header: login=%t user-menu=%t admin=%t\n", nav.ShowLogin, nav.ShowUserMenu, nav.ShowAdmin)
	return nil
}

// GateCommand runs the access check of a protected page
func GateCommand() *cli.Command {
	return &cli.Command{
		Name:  "gate",
		Usage: "Check whether the current session may view a page",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "role",
				Aliases: []string{"r"},
				Usage:   "Role the page requires (user, author, admin); empty means any signed-in user",
			},
			&cli.BoolFlag{
				Name:  "guest-only",
				Usage: "Treat the page as a guest-only page such as login or register",
			},
		},
		Action: withRuntime(runGate),
	}
}

func runGate(c *cli.Context, rt *Runtime) error {
	view := rt.Navigate(c, "/"+rt.Config.Site.DefaultLocale+"/dashboard")

	var outcome session.Outcome
	if c.Bool("guest-only") {
		outcome = rt.Gate.GuestOnly(view.Context(), view.Path())
	} else {
		outcome = rt.Gate.Check(view.Context(), view.Path(), c.String("role"))
	}

	printOutcome(c, view.Path(), outcome)
	return nil
}

func printOutcome(c *cli.Context, path string, outcome session.Outcome) {
	out := c.App.Writer
	switch outcome.Decision {
	case session.Redirect:
		fmt.Fprintf(out, "%s: redirect to %s\n", path, outcome.RedirectTo)
	case session.AccessDenied:
		fmt.Fprintf(out, "%s: access denied\n", path)
	default:
		fmt.Fprintf(out, "%s: admitted\n", path)
	}
}

// LoginCommand signs in and stores the session cookie
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in with email and password",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "email",
				Aliases:  []string{"e"},
				Usage:    "Account email",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "Account password",
				EnvVars: []string{"SITEGATE_PASSWORD"},
			},
		},
		Action: withRuntime(runLogin),
	}
}

func runLogin(c *cli.Context, rt *Runtime) error {
	view := rt.Navigate(c, "/"+rt.Config.Site.DefaultLocale+"/login")
	out := c.App.Writer

	if outcome := rt.Gate.GuestOnly(view.Context(), view.Path()); outcome.Decision == session.Redirect {
		fmt.Fprintf(out, "Already signed in as %s\n", outcome.User.Username)
		return nil
	}

	password := c.String("password")
	if password == "" {
		return fmt.Errorf("password is required (--password or SITEGATE_PASSWORD)")
	}

	user, err := rt.Auth.Login(view.Context(), strings.TrimSpace(c.String("email")), password)
	if err != nil {
		return err
	}
	if user == nil {
		user = rt.Verifier.VerifySession(view.Context())
	}
	if user == nil {
		return fmt.Errorf("login succeeded but no session was established")
	}

	fmt.Fprintf(out, "Signed in as %s (%s)\n", user.Username, roleOrNone(user.RoleName()))
	return nil
}

// LogoutCommand ends the stored session
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Sign out",
		Action: withRuntime(runLogout),
	}
}

func runLogout(c *cli.Context, rt *Runtime) error {
	view := rt.Navigate(c, "/"+rt.Config.Site.DefaultLocale+"/")
	if err := rt.Auth.Logout(view.Context()); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Signed out")
	return nil
}

func roleOrNone(role string) string {
	if role == "" {
		return "no role"
	}
	return role
}
