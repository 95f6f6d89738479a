package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Options configures the development backend
type Options struct {
	Port         int
	Secret       string
	Accounts     []SeedAccount // nil means DefaultAccounts
	BcryptCost   int
	RateLimit    float64  // requests per second per client, 0 disables
	AllowOrigins []string // CORS origins allowed to send the session cookie
	Logger       *zerolog.Logger
}

// Server is an in-memory stand-in for the site API
type Server struct {
	echo   *echo.Echo
	port   int
	data   *Data
	tokens *TokenService
	logger zerolog.Logger
}

// NewServer creates a seeded development server
func NewServer(opts Options) (*Server, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	accounts := opts.Accounts
	if accounts == nil {
		accounts = DefaultAccounts()
	}
	data := NewData(opts.BcryptCost)
	if err := data.Seed(accounts); err != nil {
		return nil, fmt.Errorf("failed to seed data: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("Request handled")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	if len(opts.AllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     opts.AllowOrigins,
			AllowCredentials: true,
		}))
	}
	if opts.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(opts.RateLimit))))
	}

	s := &Server{
		echo:   e,
		port:   opts.Port,
		data:   data,
		tokens: NewTokenService(opts.Secret),
		logger: logger,
	}
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api", LoadSession(s.tokens, s.data))

	api.GET("/health", s.handleHealth)

	auth := api.Group("/auth")
	auth.GET("/me", s.handleMe, RequireAuth())
	auth.POST("/login", s.handleLogin)
	auth.POST("/logout", s.handleLogout)
	auth.POST("/verify-email", s.handleVerifyEmail)
	auth.POST("/resend-verification", s.handleResend)

	api.GET("/comments/:slug", s.handleListComments)
	api.POST("/comments/:slug", s.handleCreateComment, RequireAuth())

	api.GET("/blog/admin/posts", s.handleAdminPosts, RequireAdmin())
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Data returns the backing state
func (s *Server) Data() *Data {
	return s.data
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.port).Msg("Development server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}
