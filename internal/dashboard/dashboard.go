// Package dashboard loads the admin dashboard: the posts listing and the API
// health indicator, behind the admin gate.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitegate/internal/apiclient"
	"github.com/sitegate/internal/logging"
	"github.com/sitegate/internal/retry"
	"github.com/sitegate/internal/session"
	"github.com/sitegate/pkg/models"
)

// APIStatus is the state of the health indicator
type APIStatus string

const (
	StatusChecking     APIStatus = "checking"
	StatusConnected    APIStatus = "connected"
	StatusDisconnected APIStatus = "disconnected"
)

// Data is everything the dashboard page shows
type Data struct {
	Outcome     session.Outcome `json:"-"`
	Posts       []models.Post   `json:"posts"`
	TotalPosts  int             `json:"total_posts"`
	PostsError  string          `json:"posts_error,omitempty"`
	APIStatus   APIStatus       `json:"api_status"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Options configures a Service
type Options struct {
	Client     apiclient.Doer
	Gate       *session.Gate
	PostsPath  string
	HealthPath string
	PerPage    int
	Retry      retry.Config
	Events     *logging.Emitter
	Logger     *zerolog.Logger
}

// Service loads dashboard data
type Service struct {
	client     apiclient.Doer
	gate       *session.Gate
	postsPath  string
	healthPath string
	perPage    int
	retry      retry.Config
	events     *logging.Source
	logger     zerolog.Logger
}

// NewService creates a dashboard service
func NewService(opts Options) *Service {
	s := &Service{
		client:     opts.Client,
		gate:       opts.Gate,
		postsPath:  opts.PostsPath,
		healthPath: opts.HealthPath,
		perPage:    opts.PerPage,
		retry:      opts.Retry,
		events:     opts.Events.Source("dashboard"),
		logger:     zerolog.Nop(),
	}
	if opts.Logger != nil {
		s.logger = opts.Logger.With().Str("component", "dashboard").Logger()
	}
	if s.perPage <= 0 || s.perPage > 100 {
		s.perPage = 100
	}
	if s.retry.Retryable == nil {
		s.retry.Retryable = retry.IsRetryableError
	}
	return s
}

// Load gates pagePath on the admin role and, once admitted, fetches the posts
// and probes the API. Listing failures are reported in Data, not as errors.
func (s *Service) Load(ctx context.Context, pagePath string) *Data {
	data := &Data{APIStatus: StatusChecking}

	data.Outcome = s.gate.Check(ctx, pagePath, session.RoleAdmin)
	if data.Outcome.Decision != session.Admit {
		return data
	}

	posts, err := s.Posts(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load dashboard data")
		s.events.Error("posts.failed", map[string]any{"error": err.Error()})
		data.PostsError = "dashboard.errorLoadingData"
	} else {
		data.Posts = posts
		data.TotalPosts = len(posts)
	}

	data.APIStatus = s.Health(ctx)
	data.LastUpdated = time.Now()
	return data
}

// Posts lists every post, published or draft, retrying transient failures
func (s *Service) Posts(ctx context.Context) ([]models.Post, error) {
	query := url.Values{"per_page": {strconv.Itoa(s.perPage)}}

	posts, result := retry.Do(ctx, s.retry, func(ctx context.Context) ([]models.Post, error) {
		resp, err := s.client.Send(ctx, apiclient.Request{Method: http.MethodGet, Path: s.postsPath, Query: query})
		if err != nil {
			return nil, err
		}
		return decodePosts(resp)
	}, &s.logger)
	if !result.Success {
		return nil, fmt.Errorf("failed to fetch posts after %d attempts: %w", result.Attempts, result.LastError)
	}
	return posts, nil
}

// Health probes the API: any 2xx is connected, anything else disconnected
func (s *Service) Health(ctx context.Context) APIStatus {
	if _, err := s.client.Send(ctx, apiclient.Request{Method: http.MethodGet, Path: s.healthPath}); err != nil {
		s.logger.Debug().Err(err).Msg("Health check failed")
		return StatusDisconnected
	}
	return StatusConnected
}

// decodePosts accepts {"posts": [...]}, {"items": [...]} or a bare array
func decodePosts(resp *apiclient.Response) ([]models.Post, error) {
	var list []models.Post
	if err := resp.Decode(&list); err == nil {
		return list, nil
	}

	var page models.PaginatedPosts
	if err := resp.Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}
	if page.Posts != nil {
		return page.Posts, nil
	}
	if page.Items != nil {
		return page.Items, nil
	}
	return []models.Post{}, nil
}
