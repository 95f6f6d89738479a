package cmd

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/sitegate/internal/session"
	"github.com/sitegate/internal/verification"
)

func emailFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "email",
		Aliases: []string{"e"},
		Usage:   "Email to verify; defaults to the pending email from the last signup or resend",
	}
}

// VerifyCommand submits an email verification code. With --page carrying
// ?email=...&code=... it behaves like opening the emailed link.
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Verify an email address with the emailed code",
		Flags: []cli.Flag{
			emailFlag(),
			&cli.StringFlag{
				Name:  "code",
				Usage: "Six-digit verification code",
			},
		},
		Action: withRuntime(runVerify),
	}
}

// ResendCommand requests a new verification code
func ResendCommand() *cli.Command {
	return &cli.Command{
		Name:   "resend",
		Usage:  "Send a new verification code",
		Flags:  []cli.Flag{emailFlag()},
		Action: withRuntime(runResend),
	}
}

// newVerification mounts a controller on the verification page. It reports
// whether a deep-link submission was scheduled, and ok=false when a signed-in
// user was redirected away.
func newVerification(c *cli.Context, rt *Runtime) (ctrl *verification.Controller, scheduled, ok bool) {
	view := rt.Navigate(c, "/"+rt.Config.Site.DefaultLocale+"/verify-email")

	outcome := rt.Gate.GuestOnly(view.Context(), view.Path())
	if outcome.Decision == session.Redirect {
		printOutcome(c, view.Path(), outcome)
		return nil, false, false
	}

	logger := rt.Logger
	ctrl = verification.New(verification.Options{
		Client:          rt.Client,
		Notifier:        rt.Notifier,
		Pending:         rt.State,
		VerifyPath:      rt.Config.Endpoints.VerifyEmail,
		ResendPath:      rt.Config.Endpoints.Resend,
		Locale:          view.Locale(),
		AutoSubmitDelay: rt.Config.Verification.AutoSubmitDelay,
		Events:          rt.Events,
		Logger:          &logger,
	})
	view.Own(ctrl)

	scheduled = ctrl.Mount(view.Context(), view.Query())
	if scheduled {
		fmt.Fprintln(c.App.Writer, ctrl.Snapshot().StatusText)
	} else if email := c.String("email"); email != "" {
		ctrl.SetEmail(email)
	}
	return ctrl, scheduled, true
}

func runVerify(c *cli.Context, rt *Runtime) error {
	ctrl, scheduled, ok := newVerification(c, rt)
	if !ok {
		return nil
	}
	ctx := rt.Router.Current().Context()

	if scheduled {
		if err := ctrl.Wait(ctx); err != nil {
			return err
		}
	} else {
		if code := c.String("code"); code != "" {
			ctrl.SetCode(code)
		}
		// failures are already reported through the notifier
		_ = ctrl.Verify(ctx)
	}

	printVerification(c.App.Writer, ctrl.View())
	return nil
}

func runResend(c *cli.Context, rt *Runtime) error {
	ctrl, _, ok := newVerification(c, rt)
	if !ok {
		return nil
	}

	// failures are already reported through the notifier
	_ = ctrl.Resend(rt.Router.Current().Context())
	printVerification(c.App.Writer, ctrl.View())
	return nil
}

func printVerification(out io.Writer, v verification.View) {
	if v.ShowConfirmation {
		fmt.Fprintln(out, v.ConfirmationTitle)
		fmt.Fprintln(out, v.ConfirmationText)
		fmt.Fprintf(out, "Log in at %s\n", v.LoginLink)
		return
	}
	if v.StatusText != "" {
		fmt.Fprintln(out, v.StatusText)
	}
	fmt.Fprintf(out, "Email: %s\n", v.Email)
	fmt.Fprintf(out, "[%s]  [%s]\n", v.VerifyLabel, v.ResendLabel)
}
