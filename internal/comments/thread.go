package comments

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sitegate/internal/apiclient"
	"github.com/sitegate/pkg/models"
)

// Reconciler merges a server-confirmed reply into the visible thread
type Reconciler interface {
	Append(reply models.Comment, parentID int64) error
}

// Reloader fetches the whole thread again
type Reloader interface {
	Reload(ctx context.Context) error
}

// Thread is the visible comment thread of one post
type Thread struct {
	client apiclient.Doer
	path   string
	tree   *Tree
	logger zerolog.Logger
}

// NewThread creates an empty thread for the post slug. commentsPath is the
// comments endpoint prefix, e.g. "/comments".
func NewThread(client apiclient.Doer, commentsPath, slug string, logger zerolog.Logger) *Thread {
	return &Thread{
		client: client,
		path:   PostPath(commentsPath, slug),
		tree:   NewTree(nil),
		logger: logger.With().Str("component", "comments").Str("slug", slug).Logger(),
	}
}

// PostPath returns the per-post comments endpoint
func PostPath(commentsPath, slug string) string {
	return strings.TrimRight(commentsPath, "/") + "/" + url.PathEscape(slug)
}

// Path returns the thread's endpoint
func (t *Thread) Path() string {
	return t.path
}

// Tree returns the rendered tree
func (t *Thread) Tree() *Tree {
	return t.tree
}

// Load fetches the thread and replaces the rendered tree
func (t *Thread) Load(ctx context.Context) error {
	resp, err := t.client.Send(ctx, apiclient.Request{Method: http.MethodGet, Path: t.path})
	if err != nil {
		return fmt.Errorf("failed to load comments: %w", err)
	}

	list, err := decodeList(resp)
	if err != nil {
		return err
	}

	t.tree.Replace(list)
	if dropped := t.tree.Dropped(); dropped > 0 {
		t.logger.Warn().Int("dropped", dropped).Msg("Comments without a visible parent were left out")
	}
	t.logger.Debug().Int("comments", t.tree.Len()).Msg("Comments loaded")
	return nil
}

// Reload implements Reloader
func (t *Thread) Reload(ctx context.Context) error {
	return t.Load(ctx)
}

// Append implements Reconciler
func (t *Thread) Append(reply models.Comment, parentID int64) error {
	return t.tree.Append(reply, parentID)
}

func decodeList(resp *apiclient.Response) ([]models.Comment, error) {
	var list []models.Comment
	if err := resp.Decode(&list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Comments []models.Comment `json:"comments"`
		Items    []models.Comment `json:"items"`
	}
	if err := resp.Decode(&wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}
	if wrapped.Comments != nil {
		return wrapped.Comments, nil
	}
	return wrapped.Items, nil
}

// createdComment extracts the created comment from a create response: either
// the comment itself or {"reply": comment}
func createdComment(resp *apiclient.Response) *models.Comment {
	if resp == nil {
		return nil
	}

	var wrapped struct {
		Reply *models.Comment `json:"reply"`
	}
	if err := resp.Decode(&wrapped); err == nil && wrapped.Reply != nil {
		return wrapped.Reply
	}

	var c models.Comment
	if err := resp.Decode(&c); err != nil || c.ID == 0 {
		return nil
	}
	return &c
}
