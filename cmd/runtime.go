package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/sitegate/internal/apiclient"
	"github.com/sitegate/internal/config"
	"github.com/sitegate/internal/logging"
	"github.com/sitegate/internal/notify"
	"github.com/sitegate/internal/page"
	"github.com/sitegate/internal/session"
	"github.com/sitegate/internal/store"
)

// Runtime wires the client-side components for one CLI invocation
type Runtime struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Events   *logging.Emitter
	Client   *apiclient.Client
	State    *store.FileStore
	Notifier *notify.Console
	Verifier *session.Verifier
	Gate     *session.Gate
	Auth     *session.Authenticator
	Router   *page.Router

	jar *store.Jar
}

// loadConfig reads and validates the configuration named by --config
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewRuntime builds the runtime from the global flags
func NewRuntime(c *cli.Context) (*Runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Log, os.Stderr)

	baseURL, err := apiclient.ResolveBaseURL(cfg.Site.URL, cfg.Site.APIURL)
	if err != nil {
		return nil, err
	}

	state := store.NewFileStore(cfg.State.Path)
	jar, err := store.NewJar(baseURL, state)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	client, err := apiclient.New(apiclient.Options{
		BaseURL:   baseURL,
		Timeout:   cfg.Client.Timeout,
		Jar:       jar,
		RateLimit: cfg.Client.RateLimit,
		Burst:     cfg.Client.Burst,
		UserAgent: cfg.Client.UserAgent,
		Logger:    &logger,
	})
	if err != nil {
		return nil, err
	}

	events := logging.NewEmitter(logger)
	verifier := session.NewVerifier(client, cfg.Endpoints.Identity, logger)

	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Events:   events,
		Client:   client,
		State:    state,
		Notifier: notify.NewConsole(c.App.Writer, notify.Catalog(cfg.Messages)),
		Verifier: verifier,
		Gate:     session.NewGate(verifier, cfg.Site.Locales, cfg.Site.DefaultLocale, events),
		Auth:     session.NewAuthenticator(client, verifier, cfg.Endpoints.Login, cfg.Endpoints.Logout),
		Router:   page.NewRouter(c.Context, cfg.Site.Locales, cfg.Site.DefaultLocale, events, verifier),
		jar:      jar,
	}

	logger.Debug().Str("api", baseURL).Str("state", state.Path()).Msg("Runtime ready")
	return rt, nil
}

// Navigate opens the page given by --page, or fallback when unset
func (rt *Runtime) Navigate(c *cli.Context, fallback string) *page.View {
	path := c.String("page")
	if path == "" {
		path = fallback
	}
	return rt.Router.Navigate(path)
}

// Close tears down the current page and persists the session cookies
func (rt *Runtime) Close() error {
	rt.Router.Close()
	if err := rt.jar.Save(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// withRuntime adapts an action that needs the runtime
func withRuntime(fn func(c *cli.Context, rt *Runtime) error) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		rt, err := NewRuntime(c)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := rt.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(c, rt)
	}
}

