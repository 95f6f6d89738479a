package models

import (
	"time"
)

// Role is the role object nested in the identity-check response
type Role struct {
	Name string `json:"name"`
}

// User represents the identity resolved from the current session
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     *Role  `json:"role,omitempty"`
}

// RoleName returns the user's role name or an empty string
func (u *User) RoleName() string {
	if u == nil || u.Role == nil {
		return ""
	}
	return u.Role.Name
}

// Comment is a single node of a post's comment thread
type Comment struct {
	ID        int64     `json:"id"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	Content   string    `json:"content"`
	Author    string    `json:"author,omitempty"`
	PostSlug  string    `json:"post_slug,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Replies   []Comment `json:"replies,omitempty"`
}

// IsReply reports whether the comment has a parent
func (c Comment) IsReply() bool {
	return c.ParentID != nil
}

// CreateCommentRequest is the payload for creating a comment or a reply
type CreateCommentRequest struct {
	Content  string `json:"content"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// Post is an entry of the admin posts listing
type Post struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title,omitempty"`
	Slug         string    `json:"slug"`
	Author       string    `json:"author,omitempty"`
	Category     string    `json:"category,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
	CommentCount int       `json:"comment_count"`
	Tags         []string  `json:"tags,omitempty"`
}

// VerifyEmailRequest is the payload of the verify-email endpoint
type VerifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// ResendVerificationRequest is the payload of the resend-verification endpoint
type ResendVerificationRequest struct {
	Email string `json:"email"`
	Lang  string `json:"lang"`
}

// TranslatedResponse is the common success body of the auth endpoints
type TranslatedResponse struct {
	TranslationCode string `json:"translation_code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// LoginRequest is the payload of the login endpoint
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PaginatedPosts is the envelope returned by the admin posts listing
type PaginatedPosts struct {
	Posts   []Post `json:"posts,omitempty"`
	Items   []Post `json:"items,omitempty"`
	Total   int    `json:"total"`
	Page    int    `json:"page"`
	Pages   int    `json:"pages"`
	PerPage int    `json:"per_page"`
}
