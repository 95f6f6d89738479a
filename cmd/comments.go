package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/sitegate/internal/apperrors"
	"github.com/sitegate/internal/comments"
	"github.com/sitegate/pkg/models"
)

func slugFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "slug",
		Aliases:  []string{"s"},
		Usage:    "Post slug",
		Required: true,
	}
}

// CommentsCommand prints the comment thread of a post
func CommentsCommand() *cli.Command {
	return &cli.Command{
		Name:   "comments",
		Usage:  "Show the comment thread of a post",
		Flags:  []cli.Flag{slugFlag()},
		Action: withRuntime(runComments),
	}
}

// ReplyCommand replies to a comment
func ReplyCommand() *cli.Command {
	return &cli.Command{
		Name:  "reply",
		Usage: "Reply to a comment",
		Flags: []cli.Flag{
			slugFlag(),
			&cli.Int64Flag{
				Name:     "to",
				Usage:    "ID of the comment to reply to",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "content",
				Aliases:  []string{"m"},
				Usage:    "Reply text",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "reload",
				Usage: "Reload the whole thread after posting instead of appending the reply",
			},
		},
		Action: withRuntime(runReply),
	}
}

func loadThread(c *cli.Context, rt *Runtime) (*comments.Thread, error) {
	slug := c.String("slug")
	view := rt.Navigate(c, "/"+rt.Config.Site.DefaultLocale+"/blog/"+slug)

	thread := comments.NewThread(rt.Client, rt.Config.Endpoints.Comments, slug, rt.Logger)
	if err := thread.Load(view.Context()); err != nil {
		return nil, err
	}
	return thread, nil
}

func runComments(c *cli.Context, rt *Runtime) error {
	thread, err := loadThread(c, rt)
	if err != nil {
		return err
	}
	printThread(c.App.Writer, thread.Tree())
	return nil
}

func runReply(c *cli.Context, rt *Runtime) error {
	thread, err := loadThread(c, rt)
	if err != nil {
		return err
	}
	view := rt.Router.Current()

	logger := rt.Logger
	opts := comments.ReplyOptions{
		Client:   rt.Client,
		Notifier: rt.Notifier,
		PostPath: thread.Path(),
		User:     rt.Verifier.VerifySession(view.Context()),
		Comments: thread.Tree(),
		Reloader: thread,
		Events:   rt.Events,
		Logger:   &logger,
	}
	if !c.Bool("reload") {
		opts.Reconciler = thread
	}
	replies := comments.NewReplyController(opts)
	view.Own(replies)

	id := c.Int64("to")
	state, err := replies.Toggle(id)
	if errors.Is(err, apperrors.ErrLoginRequired) {
		return nil
	}
	if err != nil {
		return err
	}
	if state != comments.Open {
		return fmt.Errorf("comment %d is not part of this thread", id)
	}
	replies.SetContent(id, c.String("content"))

	form := comments.RenderForm(replies.Form(id))
	fmt.Fprintf(c.App.Writer, "%s %s\n", form.Avatar, form.ReplyingTo)

	created, how, err := replies.Submit(view.Context(), id)
	if err != nil {
		// reported through the notifier; the form stays open for another try
		return nil
	}

	if created != nil {
		fmt.Fprintf(c.App.Writer, "Posted reply %d (%s)\n", created.ID, how)
	} else {
		fmt.Fprintf(c.App.Writer, "Posted reply (%s)\n", how)
	}
	printThread(c.App.Writer, thread.Tree())
	return nil
}

func printThread(out io.Writer, tree *comments.Tree) {
	if tree.Len() == 0 {
		fmt.Fprintln(out, "No comments yet")
		return
	}
	tree.Walk(func(cm models.Comment, depth int) {
		author := cm.Author
		if author == "" {
			author = "anonymous"
		}
		fmt.Fprintf(out, "%s#%d %s (%s): %s\n",
			strings.Repeat("  ", depth), cm.ID, author,
			cm.CreatedAt.Format("2006-01-02 15:04"), cm.Content)
	})
}
