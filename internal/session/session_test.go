package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitegate/internal/apiclient"
	"github.com/sitegate/internal/logging"
	"github.com/sitegate/pkg/models"
)

type doerFunc func(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)

func (f doerFunc) Send(ctx context.Context, req apiclient.Request) (*apiclient.Response, error) {
	return f(ctx, req)
}

func jsonResponse(t *testing.T, v interface{}) *apiclient.Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return &apiclient.Response{StatusCode: http.StatusOK, Body: body}
}

func userWithRole(role string) *models.User {
	return &models.User{ID: 7, Username: "ada", Role: &models.Role{Name: role}}
}

func TestIsAuthorized(t *testing.T) {
	tests := []struct {
		name     string
		user     *models.User
		required string
		want     bool
	}{
		{"nil user", nil, "", false},
		{"any user, no role required", userWithRole(""), "", true},
		{"admin alias", userWithRole("role.admin"), RoleAdmin, true},
		{"superuser", userWithRole("superuser"), RoleAdmin, true},
		{"admin", userWithRole("admin"), RoleAdmin, true},
		{"plain user on admin page", userWithRole("user"), RoleAdmin, false},
		{"admin on author page", userWithRole("admin"), RoleAuthor, true},
		{"author on user page", userWithRole("author"), RoleUser, true},
		{"user on author page", userWithRole("user"), RoleAuthor, false},
		{"no role on user page", &models.User{ID: 1}, RoleUser, false},
		{"custom role match", userWithRole("editor"), "editor", true},
		{"custom role mismatch", userWithRole("user"), "editor", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAuthorized(tt.user, tt.required))
		})
	}
}

func TestVerifierMemoizesUntilReset(t *testing.T) {
	var calls int32
	client := doerFunc(func(ctx context.Context, req apiclient.Request) (*apiclient.Response, error) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/auth/me", req.Path)
		return jsonResponse(t, userWithRole("admin")), nil
	})

	v := NewVerifier(client, "/auth/me", zerolog.Nop())
	ctx := context.Background()

	first := v.VerifySession(ctx)
	require.NotNil(t, first)
	assert.Equal(t, "ada", first.Username)
	assert.Same(t, first, v.VerifySession(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	v.Reset()
	require.NotNil(t, v.VerifySession(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestVerifierNoSession(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unauthorized", &apiclient.HTTPError{Status: http.StatusUnauthorized}},
		{"forbidden", &apiclient.HTTPError{Status: http.StatusForbidden}},
		{"server error", &apiclient.HTTPError{Status: http.StatusInternalServerError}},
		{"network", &apiclient.NetworkError{Op: "GET", URL: "http://x", Err: assert.AnError}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			v := NewVerifier(doerFunc(func(context.Context, apiclient.Request) (*apiclient.Response, error) {
				calls++
				return nil, tt.err
			}), "/auth/me", zerolog.Nop())

			assert.Nil(t, v.VerifySession(context.Background()))
			assert.Nil(t, v.VerifySession(context.Background()))
			assert.Equal(t, 1, calls, "failures are memoized for the page view too")
		})
	}
}

func TestVerifierSharesConcurrentRequest(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	v := NewVerifier(doerFunc(func(context.Context, apiclient.Request) (*apiclient.Response, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return jsonResponse(t, userWithRole("user")), nil
	}), "/auth/me", zerolog.Nop())

	var wg sync.WaitGroup
	results := make([]*models.User, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = v.VerifySession(context.Background())
		}(i)
	}

	// Let the goroutines pile up on the in-flight request.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, u := range results {
		require.NotNil(t, u)
		assert.Equal(t, int64(7), u.ID)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestVerifierSharedRequestOutlivesFirstCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	v := NewVerifier(doerFunc(func(ctx context.Context, _ apiclient.Request) (*apiclient.Response, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		select {
		case <-release:
			return jsonResponse(t, userWithRole("user")), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}), "/auth/me", zerolog.Nop())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan *models.User)
	go func() { first <- v.VerifySession(firstCtx) }()
	<-started

	second := make(chan *models.User)
	go func() { second <- v.VerifySession(context.Background()) }()
	// Let the second caller join the in-flight request.
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.Nil(t, <-first, "the cancelled caller stops waiting")

	close(release)
	user := <-second
	require.NotNil(t, user, "the other caller still gets the identity")
	assert.Equal(t, int64(7), user.ID)

	require.NotNil(t, v.VerifySession(context.Background()), "the shared result is cached")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestVerifierDropsResultFromBeforeReset(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	v := NewVerifier(doerFunc(func(context.Context, apiclient.Request) (*apiclient.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
			return jsonResponse(t, userWithRole("admin")), nil
		}
		return nil, &apiclient.HTTPError{Status: http.StatusUnauthorized}
	}), "/auth/me", zerolog.Nop())

	done := make(chan *models.User)
	go func() { done <- v.VerifySession(context.Background()) }()

	<-started
	v.Reset()
	close(release)
	require.NotNil(t, <-done, "the stale caller still gets its answer")

	assert.Nil(t, v.VerifySession(context.Background()), "the stale admin identity is not cached")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func newGate(t *testing.T, user *models.User) (*Gate, *[]logging.Event) {
	t.Helper()
	client := doerFunc(func(context.Context, apiclient.Request) (*apiclient.Response, error) {
		if user == nil {
			return nil, &apiclient.HTTPError{Status: http.StatusUnauthorized}
		}
		return jsonResponse(t, user), nil
	})

	emitter := logging.NewEmitter(zerolog.Nop())
	var events []logging.Event
	emitter.Subscribe(func(ev logging.Event) { events = append(events, ev) })

	return NewGate(NewVerifier(client, "/auth/me", zerolog.Nop()), []string{"en", "pl"}, "en", emitter), &events
}

func TestGateCheck(t *testing.T) {
	t.Run("guest is redirected to the localized login", func(t *testing.T) {
		gate, events := newGate(t, nil)
		out := gate.Check(context.Background(), "/pl/dashboard", RoleAdmin)
		assert.Equal(t, Redirect, out.Decision)
		assert.Equal(t, "/pl/login", out.RedirectTo)
		assert.False(t, out.ShowContent())
		require.Len(t, *events, 1)
		assert.Equal(t, "redirect", (*events)[0].Name)
	})

	t.Run("unknown locale falls back to default", func(t *testing.T) {
		gate, _ := newGate(t, nil)
		out := gate.Check(context.Background(), "/dashboard", RoleAdmin)
		assert.Equal(t, "/en/login", out.RedirectTo)
	})

	t.Run("non-admin sees access denied without redirect", func(t *testing.T) {
		gate, events := newGate(t, userWithRole("user"))
		out := gate.Check(context.Background(), "/en/dashboard", RoleAdmin)
		assert.Equal(t, AccessDenied, out.Decision)
		assert.Empty(t, out.RedirectTo)
		assert.False(t, out.ShowContent())
		require.NotNil(t, out.User)
		require.Len(t, *events, 1)
		assert.Equal(t, zerolog.WarnLevel, (*events)[0].Level)
	})

	t.Run("admin is admitted", func(t *testing.T) {
		gate, _ := newGate(t, userWithRole("superuser"))
		out := gate.Check(context.Background(), "/en/dashboard", RoleAdmin)
		assert.Equal(t, Admit, out.Decision)
		assert.True(t, out.ShowContent())
	})
}

func TestGateNavAndGuestOnly(t *testing.T) {
	guest, _ := newGate(t, nil)
	assert.Equal(t, NavView{ShowLogin: true}, guest.Nav(context.Background()))
	assert.Equal(t, Admit, guest.GuestOnly(context.Background(), "/pl/verify-email").Decision)

	admin, _ := newGate(t, userWithRole("role.admin"))
	assert.Equal(t, NavView{ShowUserMenu: true, ShowAdmin: true, Username: "ada"}, admin.Nav(context.Background()))

	user, _ := newGate(t, userWithRole("user"))
	assert.False(t, user.Nav(context.Background()).ShowAdmin)
	out := user.GuestOnly(context.Background(), "/pl/verify-email")
	assert.Equal(t, Redirect, out.Decision)
	assert.Equal(t, "/pl/blog", out.RedirectTo)
}

func TestAuthenticatorLoginLogout(t *testing.T) {
	var loggedIn atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			var req models.LoginRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Password != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"Invalid credentials"}`))
				return
			}
			loggedIn.Store(true)
			_ = json.NewEncoder(w).Encode(map[string]any{"user": userWithRole("user")})
		case "/api/auth/logout":
			loggedIn.Store(false)
			w.WriteHeader(http.StatusNoContent)
		case "/api/auth/me":
			if !loggedIn.Load() {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(userWithRole("user"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := apiclient.New(apiclient.Options{BaseURL: server.URL + "/api", Timeout: time.Second})
	require.NoError(t, err)

	verifier := NewVerifier(client, "/auth/me", zerolog.Nop())
	auth := NewAuthenticator(client, verifier, "/auth/login", "/auth/logout")
	ctx := context.Background()

	assert.Nil(t, verifier.VerifySession(ctx))

	_, err = auth.Login(ctx, "ada@example.com", "wrong")
	var httpErr *apiclient.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "Invalid credentials", httpErr.Message())

	user, err := auth.Login(ctx, "ada@example.com", "secret")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "ada", user.Username)
	require.NotNil(t, verifier.VerifySession(ctx), "login invalidates the cached guest identity")

	require.NoError(t, auth.Logout(ctx))
	assert.Nil(t, verifier.VerifySession(ctx))
}
