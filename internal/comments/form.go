package comments

// FormSnapshot is a copy of one reply form
type FormSnapshot struct {
	CommentID int64
	State     FormState
	Content   string
	ReplyTo   string
	Avatar    string
	Error     string
}

// FormView is what a host renders for a reply form
type FormView struct {
	Visible        bool
	Avatar         string
	Content        string
	Placeholder    string
	SubmitLabel    string
	SubmitDisabled bool
	CancelLabel    string
	ReplyingTo     string
}

// Form returns the snapshot of commentID's form
func (c *ReplyController) Form(commentID int64) FormSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.forms[commentID]
	if !ok {
		return FormSnapshot{CommentID: commentID, State: Closed}
	}
	return FormSnapshot{
		CommentID: commentID,
		State:     f.state,
		Content:   f.content,
		ReplyTo:   f.replyTo,
		Avatar:    f.avatar,
		Error:     f.err,
	}
}

// RenderForm maps a form snapshot to its view
func RenderForm(s FormSnapshot) FormView {
	if s.State == Closed {
		return FormView{}
	}
	v := FormView{
		Visible:     true,
		Avatar:      s.Avatar,
		Content:     s.Content,
		Placeholder: "Write your reply...",
		SubmitLabel: "Reply",
		CancelLabel: "Cancel",
		ReplyingTo:  "Replying to " + s.ReplyTo,
	}
	if s.State == Submitting {
		v.SubmitLabel = "Posting..."
		v.SubmitDisabled = true
	}
	return v
}
