package verification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sitegate/internal/apiclient"
	"github.com/sitegate/internal/apperrors"
	"github.com/sitegate/internal/notify"
	"github.com/sitegate/internal/page"
	"github.com/sitegate/internal/store"
	"github.com/sitegate/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeScheduler only runs callbacks when the test fires them
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Fire() int {
	s.mu.Lock()
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
	return len(due)
}

func (s *fakeScheduler) Pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fakeAPI records requests and answers through a handler
type fakeAPI struct {
	mu       sync.Mutex
	requests []apiclient.Request
	handle   func(req apiclient.Request) (*apiclient.Response, error)
}

func (f *fakeAPI) Send(_ context.Context, req apiclient.Request) (*apiclient.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	handle := f.handle
	f.mu.Unlock()
	if handle == nil {
		return &apiclient.Response{StatusCode: http.StatusOK, Body: []byte(`{}`)}, nil
	}
	return handle(req)
}

func (f *fakeAPI) Requests(path string) []apiclient.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiclient.Request
	for _, r := range f.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func ok(body string) (*apiclient.Response, error) {
	return &apiclient.Response{StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

type harness struct {
	ctrl    *Controller
	api     *fakeAPI
	notes   *notify.Recorder
	pending *store.MemoryStore
	sched   *fakeScheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		api:     &fakeAPI{},
		notes:   notify.NewRecorder(nil),
		pending: store.NewMemoryStore(),
		sched:   &fakeScheduler{},
	}
	h.ctrl = New(Options{
		Client:          h.api,
		Notifier:        h.notes,
		Pending:         h.pending,
		VerifyPath:      "/auth/verify-email",
		ResendPath:      "/auth/resend-verification",
		Locale:          "pl",
		AutoSubmitDelay: DefaultAutoSubmitDelay,
		Scheduler:       h.sched,
	})
	t.Cleanup(h.ctrl.Close)
	return h
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "123456", NormalizeCode("12-34 56"))
	assert.Equal(t, "123456", NormalizeCode("1234567890"))
	assert.Equal(t, "", NormalizeCode("abc"))
}

func TestVerifyValidation(t *testing.T) {
	tests := []struct {
		name  string
		email string
		code  string
		key   string
	}{
		{"missing email", "", "123456", "verifyEmail.enterEmailAndCode"},
		{"missing code", "a@b.com", "", "verifyEmail.enterEmailAndCode"},
		{"short code", "a@b.com", "12345", "verifyEmail.verificationCodeLength"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ctrl.SetEmail(tt.email)
			h.ctrl.SetCode(tt.code)

			err := h.ctrl.Verify(context.Background())
			var invalid *apperrors.ValidationError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.key, invalid.Key)

			assert.Empty(t, h.api.Requests("/auth/verify-email"))
			errs := h.notes.ByLevel(notify.LevelError)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.key, errs[0].Key)
			assert.Equal(t, Editing, h.ctrl.Snapshot().Status)
		})
	}
}

func TestVerifyCodeFromDeepLinkMustBeDigits(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Mount(context.Background(), url.Values{"email": {"a@b.com"}, "code": {"12ab56"}})
	h.sched.Fire()

	assert.Empty(t, h.api.Requests("/auth/verify-email"))
	assert.Equal(t, "verifyEmail.verificationCodeLength", h.ctrl.Snapshot().LastError)
}

func TestVerifySuccess(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.pending.SetPendingEmail("a@b.com"))
	h.api.handle = func(req apiclient.Request) (*apiclient.Response, error) {
		assert.Equal(t, models.VerifyEmailRequest{Email: "a@b.com", Code: "123456"}, req.Body)
		return ok(`{"translation_code":"EMAIL_VERIFICATION_SUCCESS"}`)
	}

	h.ctrl.Mount(context.Background(), url.Values{})
	assert.Equal(t, "a@b.com", h.ctrl.Snapshot().Email, "pending email prefills the form")
	h.ctrl.SetCode("123456")

	require.NoError(t, h.ctrl.Verify(context.Background()))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, Verified, snap.Status)
	_, stillPending := h.pending.PendingEmail()
	assert.False(t, stillPending)

	msgs := h.notes.ByLevel(notify.LevelSuccess)
	require.Len(t, msgs, 1)
	assert.Equal(t, "EMAIL_VERIFICATION_SUCCESS", msgs[0].Key)
	assert.Equal(t, "api.", msgs[0].Namespace)

	// Verified is terminal.
	assert.False(t, h.ctrl.SetEmail("other@b.com"))
	assert.False(t, h.ctrl.SetCode("654321"))
	require.NoError(t, h.ctrl.Verify(context.Background()))
	require.NoError(t, h.ctrl.Resend(context.Background()))
	assert.Len(t, h.api.Requests("/auth/verify-email"), 1)
	assert.Empty(t, h.api.Requests("/auth/resend-verification"))
}

func TestVerifyFailureRestoresForm(t *testing.T) {
	h := newHarness(t)
	h.api.handle = func(apiclient.Request) (*apiclient.Response, error) {
		return nil, &apiclient.HTTPError{Status: http.StatusBadRequest, Body: []byte(`{"detail":"Invalid verification code"}`)}
	}

	h.ctrl.SetEmail("a@b.com")
	h.ctrl.SetCode("111111")
	err := h.ctrl.Verify(context.Background())
	var httpErr *apiclient.HTTPError
	require.ErrorAs(t, err, &httpErr)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, Editing, snap.Status)
	assert.Equal(t, "a@b.com", snap.Email)
	assert.Equal(t, "111111", snap.Code)

	view := Render(snap)
	assert.True(t, view.ShowForm)
	assert.False(t, view.VerifyDisabled)
	assert.Equal(t, "Verify Email", view.VerifyLabel)

	errs := h.notes.ByLevel(notify.LevelError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Invalid verification code", errs[0].Text)
}

func TestVerifyNetworkErrorUsesGenericMessage(t *testing.T) {
	h := newHarness(t)
	h.api.handle = func(apiclient.Request) (*apiclient.Response, error) {
		return nil, &apiclient.NetworkError{Op: "POST", URL: "http://x", Err: assert.AnError}
	}
	h.ctrl.SetEmail("a@b.com")
	h.ctrl.SetCode("111111")
	require.Error(t, h.ctrl.Verify(context.Background()))

	errs := h.notes.ByLevel(notify.LevelError)
	require.Len(t, errs, 1)
	assert.Equal(t, notify.Fallbacks["errors.network"], errs[0].Text)
}

// Two rapid resends while the first is in flight issue one request.
func TestResendGuardsConcurrentInvocations(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.api.handle = func(apiclient.Request) (*apiclient.Response, error) {
		close(started)
		<-release
		return ok(`{"translation_code":"VERIFICATION_CODE_SENT"}`)
	}
	h.ctrl.SetEmail("a@b.com")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, h.ctrl.Resend(context.Background()))
	}()

	<-started
	assert.Equal(t, ResendSending, h.ctrl.Snapshot().Resend)
	assert.True(t, h.ctrl.View().ResendDisabled)

	var extra int32
	var inner sync.WaitGroup
	for i := 0; i < 5; i++ {
		inner.Add(1)
		go func() {
			defer inner.Done()
			if h.ctrl.Resend(context.Background()) == nil {
				atomic.AddInt32(&extra, 1)
			}
		}()
	}
	inner.Wait()
	close(release)
	wg.Wait()

	assert.Equal(t, int32(5), extra)
	assert.Len(t, h.api.Requests("/auth/resend-verification"), 1)
	assert.Equal(t, ResendSent, h.ctrl.Snapshot().Resend)
}

// A verify issued while one is in flight sends nothing and reports no error.
func TestVerifyGuardsConcurrentInvocations(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.api.handle = func(apiclient.Request) (*apiclient.Response, error) {
		close(started)
		<-release
		return ok(`{"translation_code":"EMAIL_VERIFICATION_SUCCESS"}`)
	}
	h.ctrl.SetEmail("a@b.com")
	h.ctrl.SetCode("123456")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, h.ctrl.Verify(context.Background()))
	}()

	<-started
	assert.Equal(t, Verifying, h.ctrl.Snapshot().Status)
	view := h.ctrl.View()
	assert.True(t, view.VerifyDisabled)
	assert.True(t, view.ShowSpinner)
	assert.Equal(t, "Verifying...", view.VerifyLabel)

	var ignored int32
	var inner sync.WaitGroup
	for i := 0; i < 5; i++ {
		inner.Add(1)
		go func() {
			defer inner.Done()
			if h.ctrl.Verify(context.Background()) == nil {
				atomic.AddInt32(&ignored, 1)
			}
		}()
	}
	inner.Wait()
	close(release)
	wg.Wait()

	assert.Equal(t, int32(5), ignored)
	assert.Len(t, h.api.Requests("/auth/verify-email"), 1)
	assert.Equal(t, Verified, h.ctrl.Snapshot().Status)
	assert.Len(t, h.notes.ByLevel(notify.LevelSuccess), 1)
	assert.Empty(t, h.notes.ByLevel(notify.LevelError))
}

// Leaving the page drops the completion of an in-flight resend but lets the
// request itself reach the server.
func TestNavigationKeepsInFlightResend(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	handled := make(chan error, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		handled <- r.Context().Err()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"translation_code":"VERIFICATION_CODE_SENT"}`))
	}))
	defer ts.Close()

	client, err := apiclient.New(apiclient.Options{BaseURL: ts.URL, Transport: ts.Client().Transport})
	require.NoError(t, err)

	router := page.NewRouter(context.Background(), []string{"en", "pl"}, "en", nil)
	defer router.Close()
	view := router.Navigate("/pl/verify-email")

	notes := notify.NewRecorder(nil)
	ctrl := New(Options{
		Client:     client,
		Notifier:   notes,
		Pending:    store.NewMemoryStore(),
		VerifyPath: "/auth/verify-email",
		ResendPath: "/auth/resend-verification",
		Locale:     view.Locale(),
		Scheduler:  &fakeScheduler{},
	})
	view.Own(ctrl)
	ctrl.SetEmail("a@b.com")

	result := make(chan error, 1)
	go func() { result <- ctrl.Resend(view.Context()) }()

	<-entered
	router.Navigate("/pl/blog")
	assert.True(t, view.Closed())
	assert.NoError(t, view.Context().Err())
	close(release)

	assert.NoError(t, <-handled)
	assert.ErrorIs(t, <-result, apperrors.ErrClosed)
	assert.Empty(t, notes.Messages())
	assert.Equal(t, ResendSending, ctrl.Snapshot().Resend)
}

func TestZeroAutoSubmitDelayUsesDefault(t *testing.T) {
	sched := &fakeScheduler{}
	ctrl := New(Options{Client: &fakeAPI{}, Notifier: notify.NewRecorder(nil), Scheduler: sched})
	defer ctrl.Close()

	require.True(t, ctrl.Mount(context.Background(), url.Values{"email": {"a@b.com"}, "code": {"123456"}}))
	pending := sched.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, DefaultAutoSubmitDelay, pending[0].delay)
}

func TestResendSuccessIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.ctrl.SetEmail("a@b.com")

	require.NoError(t, h.ctrl.Resend(context.Background()))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, ResendSent, snap.Resend)
	assert.True(t, snap.Resend.Terminal())

	view := Render(snap)
	assert.Equal(t, "Code Sent", view.ResendLabel)
	assert.True(t, view.ResendDisabled)

	require.NoError(t, h.ctrl.Resend(context.Background()))
	assert.Len(t, h.api.Requests("/auth/resend-verification"), 1)

	req := h.api.Requests("/auth/resend-verification")[0]
	assert.Equal(t, models.ResendVerificationRequest{Email: "a@b.com", Lang: "pl"}, req.Body)

	email, pending := h.pending.PendingEmail()
	assert.True(t, pending)
	assert.Equal(t, "a@b.com", email)

	msgs := h.notes.ByLevel(notify.LevelSuccess)
	require.Len(t, msgs, 1)
	assert.Equal(t, "VERIFICATION_CODE_SENT", msgs[0].Key)
}

func TestResendAlreadyVerifiedUsesInfoChannel(t *testing.T) {
	bodies := map[string]func() (*apiclient.Response, error){
		"error status": func() (*apiclient.Response, error) {
			return nil, &apiclient.HTTPError{Status: http.StatusBadRequest, Body: []byte(`{"detail":{"type":"info","message":"EMAIL_ALREADY_VERIFIED"}}`)}
		},
		"success status": func() (*apiclient.Response, error) {
			return ok(`{"type":"info","message":"EMAIL_ALREADY_VERIFIED"}`)
		},
	}
	for name, respond := range bodies {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.api.handle = func(apiclient.Request) (*apiclient.Response, error) { return respond() }
			h.ctrl.SetEmail("a@b.com")

			require.NoError(t, h.ctrl.Resend(context.Background()))

			snap := h.ctrl.Snapshot()
			assert.Equal(t, ResendAlreadyVerified, snap.Resend)
			view := Render(snap)
			assert.Equal(t, "Already Verified", view.ResendLabel)
			assert.True(t, view.ResendDisabled)

			assert.Empty(t, h.notes.ByLevel(notify.LevelError))
			assert.Empty(t, h.notes.ByLevel(notify.LevelSuccess))
			infos := h.notes.ByLevel(notify.LevelInfo)
			require.Len(t, infos, 1)
			assert.Equal(t, notify.Fallbacks["api.EMAIL_ALREADY_VERIFIED"], infos[0].Text)

			require.NoError(t, h.ctrl.Resend(context.Background()))
			assert.Len(t, h.api.Requests("/auth/resend-verification"), 1)
		})
	}
}

func TestResendFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.api.handle = func(apiclient.Request) (*apiclient.Response, error) {
		calls++
		if calls == 1 {
			return nil, &apiclient.HTTPError{Status: http.StatusTooManyRequests, Body: []byte(`{"message":"Too many requests"}`)}
		}
		return ok(`{}`)
	}
	h.ctrl.SetEmail("a@b.com")

	require.Error(t, h.ctrl.Resend(context.Background()))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, ResendIdle, snap.Resend)
	assert.Equal(t, "Resend Code", Render(snap).ResendLabel)
	assert.False(t, Render(snap).ResendDisabled)
	require.Len(t, h.notes.ByLevel(notify.LevelError), 1)

	require.NoError(t, h.ctrl.Resend(context.Background()))
	assert.Equal(t, ResendSent, h.ctrl.Snapshot().Resend)
	assert.Len(t, h.api.Requests("/auth/resend-verification"), 2)
}

func TestResendRequiresEmail(t *testing.T) {
	h := newHarness(t)
	var invalid *apperrors.ValidationError
	require.ErrorAs(t, h.ctrl.Resend(context.Background()), &invalid)
	assert.Equal(t, "verifyEmail.enterEmail", invalid.Key)
	assert.Empty(t, h.api.Requests("/auth/resend-verification"))
	assert.Equal(t, ResendIdle, h.ctrl.Snapshot().Resend)
}

func TestAutoSubmitNeedsBothParams(t *testing.T) {
	tests := []struct {
		name      string
		query     url.Values
		scheduled bool
	}{
		{"both", url.Values{"email": {"a@b.com"}, "code": {"123456"}}, true},
		{"email only", url.Values{"email": {"a@b.com"}}, false},
		{"code only", url.Values{"code": {"123456"}}, false},
		{"neither", url.Values{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			assert.Equal(t, tt.scheduled, h.ctrl.Mount(context.Background(), tt.query))
			assert.Equal(t, tt.scheduled, h.ctrl.Snapshot().AutoSubmit)

			if tt.scheduled {
				pending := h.sched.Pending()
				require.Len(t, pending, 1)
				assert.Equal(t, DefaultAutoSubmitDelay, pending[0].delay)
			} else {
				assert.Empty(t, h.sched.Pending())
			}
			assert.Empty(t, h.api.Requests("/auth/verify-email"), "nothing is sent before the delay")
		})
	}
}

func TestDeepLinkScenario(t *testing.T) {
	h := newHarness(t)
	h.api.handle = func(apiclient.Request) (*apiclient.Response, error) { return ok(`{}`) }

	h.ctrl.Mount(context.Background(), url.Values{"email": {"a@b.com"}, "code": {"123456"}})

	snap := h.ctrl.Snapshot()
	assert.Equal(t, "a@b.com", snap.Email)
	assert.Equal(t, "123456", snap.Code)
	assert.Equal(t, "Automatically verifying a@b.com...", snap.StatusText)
	assert.Equal(t, "code", Render(snap).Focus)

	email, pending := h.pending.PendingEmail()
	require.True(t, pending)
	assert.Equal(t, "a@b.com", email)
	assert.Empty(t, h.api.Requests("/auth/verify-email"))

	require.Equal(t, 1, h.sched.Fire())
	require.NoError(t, h.ctrl.Wait(context.Background()))

	assert.Len(t, h.api.Requests("/auth/verify-email"), 1)
	view := h.ctrl.View()
	assert.False(t, view.ShowForm)
	assert.True(t, view.ShowConfirmation)
	assert.Equal(t, "/pl/login", view.LoginLink)

	_, pending = h.pending.PendingEmail()
	assert.False(t, pending)
}

func TestAutoSubmitWithClock(t *testing.T) {
	api := &fakeAPI{}
	ctrl := New(Options{
		Client:          api,
		Notifier:        notify.NewRecorder(nil),
		VerifyPath:      "/auth/verify-email",
		ResendPath:      "/auth/resend-verification",
		AutoSubmitDelay: 30 * time.Millisecond,
	})
	defer ctrl.Close()

	start := time.Now()
	require.True(t, ctrl.Mount(context.Background(), url.Values{"email": {"a@b.com"}, "code": {"123456"}}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Wait(ctx))

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Len(t, api.Requests("/auth/verify-email"), 1)
	assert.Equal(t, Verified, ctrl.Snapshot().Status)
}

func TestCloseCancelsAutoSubmit(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Mount(context.Background(), url.Values{"email": {"a@b.com"}, "code": {"123456"}})

	h.ctrl.Close()
	assert.Equal(t, 0, h.sched.Fire())
	require.NoError(t, h.ctrl.Wait(context.Background()))
	assert.Empty(t, h.api.Requests("/auth/verify-email"))
	assert.ErrorIs(t, h.ctrl.Verify(context.Background()), apperrors.ErrClosed)
}

func TestCompletionAfterCloseIsIgnored(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.api.handle = func(apiclient.Request) (*apiclient.Response, error) {
		close(started)
		<-release
		return ok(`{}`)
	}
	h.ctrl.SetEmail("a@b.com")

	done := make(chan error)
	go func() { done <- h.ctrl.Resend(context.Background()) }()

	<-started
	h.ctrl.Close()
	close(release)

	assert.ErrorIs(t, <-done, apperrors.ErrClosed)
	assert.Equal(t, ResendSending, h.ctrl.Snapshot().Resend, "no transition after teardown")
	assert.Empty(t, h.notes.Messages())
}

func TestMountTwiceIsNoop(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.ctrl.Mount(context.Background(), url.Values{"email": {"a@b.com"}, "code": {"123456"}}))
	assert.False(t, h.ctrl.Mount(context.Background(), url.Values{"email": {"x@y.com"}, "code": {"654321"}}))
	assert.Len(t, h.sched.Pending(), 1)
	assert.Equal(t, "a@b.com", h.ctrl.Snapshot().Email)
}

func TestRenderFocusAndVerifying(t *testing.T) {
	assert.Equal(t, "email", Render(Snapshot{}).Focus)

	v := Render(Snapshot{Email: "a@b.com", Status: Verifying})
	assert.Equal(t, "Verifying...", v.VerifyLabel)
	assert.True(t, v.VerifyDisabled)
	assert.True(t, v.ShowSpinner)
	assert.Equal(t, "code", v.Focus)
}

func TestTranslationCodeFallback(t *testing.T) {
	resp := &apiclient.Response{Body: mustJSON(t, models.TranslatedResponse{})}
	assert.Equal(t, "FALLBACK", translationCode(resp, "FALLBACK"))
	assert.Equal(t, "FALLBACK", translationCode(&apiclient.Response{}, "FALLBACK"))
	assert.Equal(t, "X", translationCode(&apiclient.Response{Body: []byte(`{"translation_code":"X"}`)}, "FALLBACK"))
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
