// Package verification drives the email verification page: entering or
// deep-linking an email and code, verifying it, and requesting a new code.
package verification

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitegate/internal/apiclient"
	"github.com/sitegate/internal/apperrors"
	"github.com/sitegate/internal/logging"
	"github.com/sitegate/internal/notify"
	"github.com/sitegate/internal/store"
	"github.com/sitegate/pkg/models"
)

// CodeLength is the number of digits in a verification code
const CodeLength = 6

// DefaultAutoSubmitDelay gives the page time to render before a deep link
// submits itself
const DefaultAutoSubmitDelay = 500 * time.Millisecond

const apiNamespace = "api."

// Options configures a Controller
type Options struct {
	Client     apiclient.Doer
	Notifier   notify.Dispatcher
	Pending    store.PendingEmail
	VerifyPath string
	ResendPath string
	Locale     string

	// AutoSubmitDelay is the wait before a deep link submits; zero or less
	// means DefaultAutoSubmitDelay
	AutoSubmitDelay time.Duration
	Scheduler       Scheduler

	Events *logging.Emitter
	Logger *zerolog.Logger
}

// Controller owns one verification page view
type Controller struct {
	client     apiclient.Doer
	notifier   notify.Dispatcher
	pending    store.PendingEmail
	verifyPath string
	resendPath string
	locale     string
	delay      time.Duration
	scheduler  Scheduler
	events     *logging.Source
	logger     zerolog.Logger

	mu         sync.Mutex
	mounted    bool
	closed     bool
	email      string
	code       string
	status     Status
	resend     ResendState
	statusText string
	lastError  string
	autoTimer  Timer
	autoDone   chan struct{}
}

// New creates a controller
func New(opts Options) *Controller {
	c := &Controller{
		client:     opts.Client,
		notifier:   opts.Notifier,
		pending:    opts.Pending,
		verifyPath: opts.VerifyPath,
		resendPath: opts.ResendPath,
		locale:     opts.Locale,
		delay:      opts.AutoSubmitDelay,
		scheduler:  opts.Scheduler,
		events:     opts.Events.Source("verification"),
		logger:     zerolog.Nop(),
	}
	if opts.Logger != nil {
		c.logger = opts.Logger.With().Str("component", "verification").Logger()
	}
	if c.scheduler == nil {
		c.scheduler = ClockScheduler{}
	}
	if c.delay <= 0 {
		c.delay = DefaultAutoSubmitDelay
	}
	if c.locale == "" {
		c.locale = "en"
	}
	if c.pending == nil {
		c.pending = store.NewMemoryStore()
	}
	return c
}

// Mount prefills the form from the page query and the pending email, and
// schedules a submission when the query carries both an email and a code.
// It reports whether a submission was scheduled. Mounting twice is a no-op.
func (c *Controller) Mount(ctx context.Context, query url.Values) bool {
	emailParam := strings.TrimSpace(query.Get("email"))
	codeParam := strings.TrimSpace(query.Get("code"))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mounted || c.closed {
		return false
	}
	c.mounted = true

	if emailParam != "" {
		c.email = emailParam
		c.statusText = "Verification code sent to " + emailParam
		if err := c.pending.SetPendingEmail(emailParam); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to persist pending email")
		}
	} else if stored, ok := c.pending.PendingEmail(); ok {
		c.email = stored
		c.statusText = "Verification code sent to " + stored
	}

	if codeParam != "" {
		c.code = codeParam
	}

	if emailParam == "" || codeParam == "" {
		return false
	}

	c.statusText = "Automatically verifying " + emailParam + "..."
	done := make(chan struct{})
	c.autoDone = done
	c.autoTimer = c.scheduler.AfterFunc(c.delay, func() {
		defer close(done)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.autoTimer = nil
		c.mu.Unlock()

		c.events.Info("autosubmit.fired", map[string]any{"email": emailParam})
		_ = c.Verify(ctx)
	})
	c.events.Info("autosubmit.scheduled", map[string]any{"email": emailParam, "delay": c.delay.String()})
	return true
}

// Wait blocks until a scheduled deep-link submission has finished, or ctx is
// done. It returns immediately when nothing was scheduled.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.autoDone
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetEmail edits the email field. Edits are ignored while verifying and
// after verification.
func (c *Controller) SetEmail(email string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status != Editing {
		return false
	}
	c.email = email
	return true
}

// SetCode edits the code field, keeping at most six digits of the input
func (c *Controller) SetCode(input string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status != Editing {
		return false
	}
	c.code = NormalizeCode(input)
	return true
}

// NormalizeCode strips non-digits and truncates to CodeLength
func NormalizeCode(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == CodeLength {
				break
			}
		}
	}
	return b.String()
}

func validCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Verify submits the email and code. It is a no-op while a verification is
// in flight and after success.
func (c *Controller) Verify(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.ErrClosed
	}
	if c.status != Editing {
		c.mu.Unlock()
		return nil
	}

	email := strings.TrimSpace(c.email)
	code := strings.TrimSpace(c.code)

	var invalid *apperrors.ValidationError
	switch {
	case email == "" || code == "":
		invalid = apperrors.Validation("verifyEmail.enterEmailAndCode", "Please enter your email and verification code")
	case !validCode(code):
		invalid = apperrors.Validation("verifyEmail.verificationCodeLength", "The verification code must be 6 digits")
	}
	if invalid != nil {
		c.lastError = invalid.Key
		c.mu.Unlock()
		c.events.Warn("verify.rejected", map[string]any{"key": invalid.Key})
		c.notifier.Error(invalid.Key, "")
		return invalid
	}

	c.status = Verifying
	c.lastError = ""
	c.mu.Unlock()

	c.events.Info("verify.started", map[string]any{"email": email})
	resp, err := c.client.Send(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   c.verifyPath,
		Body:   models.VerifyEmailRequest{Email: email, Code: code},
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.discarded("verify", err)
		return apperrors.ErrClosed
	}
	if err != nil {
		msg := apperrors.Message(err, "errors.network")
		c.status = Editing
		c.lastError = msg
		c.mu.Unlock()

		c.events.Error("verify.failed", map[string]any{"kind": apperrors.Classify(err).String(), "message": msg})
		c.notifier.Error(msg, apiNamespace)
		return err
	}
	c.status = Verified
	c.mu.Unlock()

	if err := c.pending.ClearPendingEmail(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear pending email")
	}

	c.events.Info("verify.succeeded", map[string]any{"email": email})
	c.notifier.Success(translationCode(resp, "EMAIL_VERIFICATION_SUCCESS"), apiNamespace)
	return nil
}

// Resend asks the API for a new code. Any call while the resend control is
// not idle is a no-op: the transition to sending happens under the lock
// before the request goes out.
func (c *Controller) Resend(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.ErrClosed
	}
	if c.resend != ResendIdle || c.status == Verified {
		state := c.resend
		c.mu.Unlock()
		c.events.Debug("resend.ignored", map[string]any{"state": state.String()})
		return nil
	}

	email := strings.TrimSpace(c.email)
	if email == "" {
		c.mu.Unlock()
		invalid := apperrors.Validation("verifyEmail.enterEmail", "Please enter your email")
		c.events.Warn("resend.rejected", map[string]any{"key": invalid.Key})
		c.notifier.Error(invalid.Key, "")
		return invalid
	}

	c.resend = ResendSending
	locale := c.locale
	c.mu.Unlock()

	c.events.Info("resend.sending", map[string]any{"email": email})
	resp, err := c.client.Send(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   c.resendPath,
		Body:   models.ResendVerificationRequest{Email: email, Lang: locale},
	})

	info := domainInfo(resp, err)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.discarded("resend", err)
		return apperrors.ErrClosed
	}

	switch {
	case info != nil:
		c.resend = ResendAlreadyVerified
		c.mu.Unlock()

		c.events.Info("resend.already_verified", map[string]any{"message": info.Message})
		c.notifier.Info(info.Message, apiNamespace)
		return nil

	case err != nil:
		msg := apperrors.Message(err, "errors.network")
		c.resend = ResendIdle
		c.lastError = msg
		c.mu.Unlock()

		c.events.Error("resend.failed", map[string]any{
			"state":   ResendError.String(),
			"kind":    apperrors.Classify(err).String(),
			"message": msg,
		})

		c.notifier.Error(msg, apiNamespace)
		return err
	}

	c.resend = ResendSent
	c.statusText = "Verification code sent to " + email
	c.mu.Unlock()

	if err := c.pending.SetPendingEmail(email); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist pending email")
	}

	c.events.Info("resend.sent", map[string]any{"email": email})
	c.notifier.Success(translationCode(resp, "VERIFICATION_CODE_SENT"), apiNamespace)
	return nil
}

// Close retires the controller. A scheduled submission is cancelled and
// completions of in-flight requests are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.autoTimer != nil {
		if c.autoTimer.Stop() {
			close(c.autoDone)
		}
		c.autoTimer = nil
	}
	c.events.Debug("closed", nil)
}

// Snapshot returns the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Email:      c.email,
		Code:       c.code,
		Status:     c.status,
		Resend:     c.resend,
		StatusText: c.statusText,
		AutoSubmit: c.autoTimer != nil,
		LastError:  c.lastError,
		Locale:     c.locale,
	}
}

// View renders the current state
func (c *Controller) View() View {
	return Render(c.Snapshot())
}

func (c *Controller) discarded(op string, err error) {
	c.logger.Debug().Str("op", op).AnErr("result", err).Msg("Completion after close ignored")
	c.events.Debug("completion.discarded", map[string]any{"op": op})
}

// domainInfo extracts the informational outcome, which the API may send
// either as a 2xx body or as the body of an error status
func domainInfo(resp *apiclient.Response, err error) *apiclient.DomainInfo {
	var info *apiclient.DomainInfo
	if errors.As(err, &info) {
		return info
	}

	var httpErr *apiclient.HTTPError
	if errors.As(err, &httpErr) {
		info, _ = apiclient.ParseDomainInfo(httpErr.Body)
		return info
	}

	if err == nil && resp != nil {
		info, _ = apiclient.ParseDomainInfo(resp.Body)
	}
	return info
}

func translationCode(resp *apiclient.Response, fallback string) string {
	if resp == nil {
		return fallback
	}
	var body models.TranslatedResponse
	if err := resp.Decode(&body); err != nil || body.TranslationCode == "" {
		return fallback
	}
	return body.TranslationCode
}
