package session

import (
	"context"
	"fmt"

	"github.com/sitegate/internal/logging"
	"github.com/sitegate/internal/page"
	"github.com/sitegate/pkg/models"
)

// Decision is the outcome of a page-admission check
type Decision int

const (
	Admit Decision = iota
	Redirect
	AccessDenied
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case Redirect:
		return "redirect"
	case AccessDenied:
		return "access_denied"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Outcome is what the host should do with a gated page
type Outcome struct {
	Decision   Decision
	User       *models.User
	RedirectTo string // set for Redirect
}

// ShowContent reports whether protected content may be rendered
func (o Outcome) ShowContent() bool {
	return o.Decision == Admit
}

// NavView is the header state for the current session
type NavView struct {
	ShowLogin    bool
	ShowUserMenu bool
	ShowAdmin    bool
	Username     string
}

// Gate decides page admission from the current session. It is advisory: the
// API re-validates the session on every call.
type Gate struct {
	verifier      *Verifier
	locales       []string
	defaultLocale string
	events        *logging.Source
}

// NewGate creates a gate
func NewGate(verifier *Verifier, locales []string, defaultLocale string, events *logging.Emitter) *Gate {
	return &Gate{
		verifier:      verifier,
		locales:       locales,
		defaultLocale: defaultLocale,
		events:        events.Source("gate"),
	}
}

// Verifier returns the verifier backing the gate
func (g *Gate) Verifier() *Verifier {
	return g.verifier
}

// Check runs the admission check for a page at pagePath requiring requiredRole
func (g *Gate) Check(ctx context.Context, pagePath, requiredRole string) Outcome {
	user := g.verifier.VerifySession(ctx)
	if user == nil {
		to := g.LoginPath(pagePath)
		g.events.Info("redirect", map[string]any{"path": pagePath, "to": to})
		return Outcome{Decision: Redirect, RedirectTo: to}
	}

	if !IsAuthorized(user, requiredRole) {
		g.events.Warn("access_denied", map[string]any{
			"path":     pagePath,
			"user_id":  user.ID,
			"role":     user.RoleName(),
			"required": requiredRole,
		})
		return Outcome{Decision: AccessDenied, User: user}
	}

	g.events.Debug("admit", map[string]any{"path": pagePath, "user_id": user.ID})
	return Outcome{Decision: Admit, User: user}
}

// GuestOnly is the check for pages meant for signed-out visitors, such as
// email verification: a signed-in user is sent to the blog
func (g *Gate) GuestOnly(ctx context.Context, pagePath string) Outcome {
	user := g.verifier.VerifySession(ctx)
	if user != nil {
		return Outcome{
			Decision:   Redirect,
			User:       user,
			RedirectTo: "/" + g.locale(pagePath) + "/blog",
		}
	}
	return Outcome{Decision: Admit}
}

// Nav returns the header state: login button for guests, user menu for
// signed-in users and the admin link for administrators
func (g *Gate) Nav(ctx context.Context) NavView {
	user := g.verifier.VerifySession(ctx)
	if user == nil {
		return NavView{ShowLogin: true}
	}
	return NavView{
		ShowUserMenu: true,
		ShowAdmin:    IsAdminRole(user.RoleName()),
		Username:     user.Username,
	}
}

// LoginPath returns the login page for the locale active in pagePath
func (g *Gate) LoginPath(pagePath string) string {
	return "/" + g.locale(pagePath) + "/login"
}

func (g *Gate) locale(pagePath string) string {
	return page.LocaleFromPath(pagePath, g.locales, g.defaultLocale)
}
