// Package comments holds a post's comment thread and the per-comment reply
// forms.
package comments

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sitegate/internal/apiclient"
	"github.com/sitegate/internal/apperrors"
	"github.com/sitegate/internal/logging"
	"github.com/sitegate/internal/notify"
	"github.com/sitegate/pkg/models"
)

// FormState is the state of one comment's reply form
type FormState int

const (
	Closed FormState = iota
	Open
	Submitting
)

func (s FormState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Submitting:
		return "submitting"
	default:
		return "unknown"
	}
}

// Reconciliation is how a successful reply reached the visible thread
type Reconciliation int

const (
	NotReconciled Reconciliation = iota
	Appended
	Reloaded
)

// Lookup finds rendered comments
type Lookup interface {
	Get(id int64) (models.Comment, bool)
}

// ReplyOptions configures a ReplyController
type ReplyOptions struct {
	Client   apiclient.Doer
	Notifier notify.Dispatcher
	PostPath string // per-post comments endpoint
	User     *models.User

	// Comments is consulted when a form opens. Reconciler and Reloader are
	// both optional; a successful reply is appended when possible and the
	// thread reloaded otherwise.
	Comments   Lookup
	Reconciler Reconciler
	Reloader   Reloader

	Events *logging.Emitter
	Logger *zerolog.Logger
}

type form struct {
	state   FormState
	content string
	replyTo string
	avatar  string
	err     string
}

// ReplyController owns the reply forms of one rendered thread
type ReplyController struct {
	client     apiclient.Doer
	notifier   notify.Dispatcher
	postPath   string
	comments   Lookup
	reconciler Reconciler
	reloader   Reloader
	events     *logging.Source
	logger     zerolog.Logger

	mu     sync.Mutex
	user   *models.User
	forms  map[int64]*form
	closed bool
}

// NewReplyController creates a controller
func NewReplyController(opts ReplyOptions) *ReplyController {
	c := &ReplyController{
		client:     opts.Client,
		notifier:   opts.Notifier,
		postPath:   opts.PostPath,
		comments:   opts.Comments,
		reconciler: opts.Reconciler,
		reloader:   opts.Reloader,
		events:     opts.Events.Source("comments"),
		logger:     zerolog.Nop(),
		user:       opts.User,
		forms:      make(map[int64]*form),
	}
	if opts.Logger != nil {
		c.logger = opts.Logger.With().Str("component", "replies").Logger()
	}
	return c
}

// SetUser updates the signed-in user
func (c *ReplyController) SetUser(user *models.User) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
}

// Toggle opens the reply form for commentID, or closes it and discards its
// content when it is already open. It does nothing while a reply is being
// submitted or when the comment is not rendered.
func (c *ReplyController) Toggle(commentID int64) (FormState, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Closed, apperrors.ErrClosed
	}

	if c.user == nil {
		c.mu.Unlock()
		c.notifier.Error("comments.loginRequired", "")
		return Closed, apperrors.ErrLoginRequired
	}

	if f, ok := c.forms[commentID]; ok {
		if f.state == Submitting {
			c.mu.Unlock()
			return Submitting, nil
		}
		delete(c.forms, commentID)
		c.mu.Unlock()
		c.events.Debug("form.closed", map[string]any{"comment_id": commentID})
		return Closed, nil
	}

	var parent models.Comment
	found := false
	if c.comments != nil {
		parent, found = c.comments.Get(commentID)
	}
	if !found {
		c.mu.Unlock()
		c.events.Debug("form.unavailable", map[string]any{"comment_id": commentID})
		return Closed, nil
	}

	replyTo := strings.TrimSpace(parent.Author)
	if replyTo == "" {
		replyTo = "user"
	}
	c.forms[commentID] = &form{
		state:   Open,
		replyTo: replyTo,
		avatar:  AvatarInitial(c.user),
	}
	c.mu.Unlock()

	c.events.Debug("form.opened", map[string]any{"comment_id": commentID, "reply_to": replyTo})
	return Open, nil
}

// Cancel closes an open form
func (c *ReplyController) Cancel(commentID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.forms[commentID]; ok && f.state == Open {
		delete(c.forms, commentID)
	}
}

// SetContent edits an open form
func (c *ReplyController) SetContent(commentID int64, content string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.forms[commentID]
	if !ok || f.state != Open {
		return false
	}
	f.content = content
	return true
}

// State returns the form state of commentID
func (c *ReplyController) State(commentID int64) FormState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.forms[commentID]; ok {
		return f.state
	}
	return Closed
}

// Submit posts the open form's content as a reply to commentID. A second
// Submit while the first is in flight is rejected without a request.
func (c *ReplyController) Submit(ctx context.Context, commentID int64) (*models.Comment, Reconciliation, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, NotReconciled, apperrors.ErrClosed
	}
	f, ok := c.forms[commentID]
	if !ok {
		c.mu.Unlock()
		return nil, NotReconciled, nil
	}
	if f.state == Submitting {
		c.mu.Unlock()
		c.events.Debug("submit.ignored", map[string]any{"comment_id": commentID})
		return nil, NotReconciled, nil
	}

	content := strings.TrimSpace(f.content)
	if content == "" {
		f.err = "comments.required"
		c.mu.Unlock()
		c.events.Warn("submit.rejected", map[string]any{"comment_id": commentID})
		c.notifier.Error("comments.required", "")
		return nil, NotReconciled, apperrors.Validation("comments.required", "Reply content is required")
	}

	f.state = Submitting
	f.err = ""
	c.mu.Unlock()

	parentID := commentID
	c.events.Info("submit.started", map[string]any{"comment_id": commentID})
	resp, err := c.client.Send(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   c.postPath,
		Body:   models.CreateCommentRequest{Content: content, ParentID: &parentID},
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug().Int64("comment_id", commentID).AnErr("result", err).Msg("Completion after close ignored")
		c.events.Debug("completion.discarded", map[string]any{"comment_id": commentID})
		return nil, NotReconciled, apperrors.ErrClosed
	}
	if err != nil {
		msg := apperrors.Message(err, "comments.error")
		f.state = Open
		f.err = msg
		c.mu.Unlock()

		c.events.Error("submit.failed", map[string]any{
			"comment_id": commentID,
			"kind":       apperrors.Classify(err).String(),
			"message":    msg,
		})
		c.notifier.Error(msg, "")
		return nil, NotReconciled, err
	}
	delete(c.forms, commentID)
	c.mu.Unlock()

	c.notifier.Success("comments.replySuccess", "")

	created := createdComment(resp)
	how := c.reconcile(ctx, created, commentID)
	c.events.Info("submit.succeeded", map[string]any{"comment_id": commentID, "reconciliation": how.String()})
	return created, how, nil
}

func (c *ReplyController) reconcile(ctx context.Context, created *models.Comment, parentID int64) Reconciliation {
	if created != nil && c.reconciler != nil {
		err := c.reconciler.Append(*created, parentID)
		if err == nil {
			return Appended
		}
		c.logger.Warn().Err(err).Int64("reply_id", created.ID).Msg("Could not append reply, reloading thread")
	}

	if c.reloader == nil {
		return NotReconciled
	}
	if err := c.reloader.Reload(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to reload comments")
		c.events.Warn("reload.failed", map[string]any{"error": err.Error()})
		return NotReconciled
	}
	return Reloaded
}

// Close retires the controller; in-flight completions are dropped
func (c *ReplyController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.forms = make(map[int64]*form)
}

func (r Reconciliation) String() string {
	switch r {
	case Appended:
		return "appended"
	case Reloaded:
		return "reloaded"
	default:
		return "none"
	}
}

// AvatarInitial is the letter shown in the composer avatar
func AvatarInitial(user *models.User) string {
	if user == nil {
		return "U"
	}
	for _, s := range []string{user.Username, user.Email} {
		s = strings.TrimSpace(s)
		if s != "" {
			return strings.ToUpper(string([]rune(s)[0]))
		}
	}
	return "U"
}
