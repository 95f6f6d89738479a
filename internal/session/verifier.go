package session

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sitegate/internal/apiclient"
	"github.com/sitegate/pkg/models"
)

// Verifier resolves the current user once per page view.
//
// The result is memoized until Reset, which the router calls on every
// navigation. Concurrent first callers share a single identity request that
// no caller's cancellation aborts, and a response that lands after a Reset is
// returned to its callers but never cached.
type Verifier struct {
	client apiclient.Doer
	path   string
	logger zerolog.Logger

	group singleflight.Group

	mu         sync.Mutex
	generation uint64
	cached     bool
	user       *models.User
}

// NewVerifier creates a verifier calling the identity endpoint at path
func NewVerifier(client apiclient.Doer, path string, logger zerolog.Logger) *Verifier {
	return &Verifier{
		client: client,
		path:   path,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// VerifySession returns the current user, or nil when there is no valid session
func (v *Verifier) VerifySession(ctx context.Context) *models.User {
	v.mu.Lock()
	if v.cached {
		user := v.user
		v.mu.Unlock()
		return user
	}
	gen := v.generation
	v.mu.Unlock()

	// The shared request outlives any one caller; each caller stops waiting
	// when its own ctx ends.
	fetchCtx := context.WithoutCancel(ctx)
	ch := v.group.DoChan(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		user, err := v.fetch(fetchCtx)

		v.mu.Lock()
		if v.generation == gen && !errors.Is(err, context.Canceled) {
			v.cached = true
			v.user = user
		}
		v.mu.Unlock()

		return user, nil
	})

	select {
	case res := <-ch:
		user, _ := res.Val.(*models.User)
		return user
	case <-ctx.Done():
		return nil
	}
}

// Reset drops the memoized identity
func (v *Verifier) Reset() {
	v.mu.Lock()
	v.generation++
	v.cached = false
	v.user = nil
	v.mu.Unlock()
}

func (v *Verifier) fetch(ctx context.Context) (*models.User, error) {
	resp, err := v.client.Send(ctx, apiclient.Request{Method: http.MethodGet, Path: v.path})
	if err != nil {
		var httpErr *apiclient.HTTPError
		if errors.As(err, &httpErr) && (httpErr.Status == http.StatusUnauthorized || httpErr.Status == http.StatusForbidden) {
			v.logger.Debug().Int("status", httpErr.Status).Msg("No active session")
			return nil, nil
		}
		v.logger.Warn().Err(err).Msg("Identity check failed")
		return nil, err
	}

	var user models.User
	if err := resp.Decode(&user); err != nil {
		v.logger.Warn().Err(err).Msg("Failed to decode identity response")
		return nil, err
	}
	if user.ID == 0 && user.Username == "" {
		return nil, nil
	}

	v.logger.Debug().Int64("user_id", user.ID).Str("role", user.RoleName()).Msg("Session verified")
	return &user, nil
}
