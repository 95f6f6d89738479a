package devserver

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sitegate/pkg/models"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotVerified        = errors.New("email not verified")
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrParentNotFound     = errors.New("parent comment not found")
	ErrPostNotFound       = errors.New("post not found")
)

// Account is a user of the stub backend
type Account struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Verified     bool
	Code         string
}

// Public returns the identity as the API reports it
func (a *Account) Public() models.User {
	return models.User{
		ID:       a.ID,
		Username: a.Username,
		Email:    a.Email,
		Role:     &models.Role{Name: a.Role},
	}
}

// SeedAccount describes an account created at startup
type SeedAccount struct {
	Username string
	Email    string
	Password string
	Role     string
	Verified bool
	Code     string // pending verification code for unverified accounts
}

// DefaultAccounts are the accounts the dev server starts with
func DefaultAccounts() []SeedAccount {
	return []SeedAccount{
		{Username: "admin", Email: "admin@example.com", Password: "admin123", Role: "admin", Verified: true},
		{Username: "reader", Email: "reader@example.com", Password: "reader123", Role: "user", Verified: true},
		{Username: "newbie", Email: "newbie@example.com", Password: "newbie123", Role: "user", Code: "123456"},
	}
}

// Data is the in-memory state of the stub backend
type Data struct {
	mu       sync.RWMutex
	cost     int
	nextID   int64
	accounts map[string]*Account // by lower-cased email
	posts    []models.Post
	comments map[string][]models.Comment // by post slug, flat
}

// NewData creates the backend state. cost is the bcrypt cost; zero means
// bcrypt.DefaultCost.
func NewData(cost int) *Data {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Data{
		cost:     cost,
		accounts: make(map[string]*Account),
		comments: make(map[string][]models.Comment),
	}
}

func (d *Data) id() int64 {
	d.nextID++
	return d.nextID
}

// AddAccount creates an account
func (d *Data) AddAccount(seed SeedAccount) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), d.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := strings.ToLower(seed.Email)
	if _, exists := d.accounts[key]; exists {
		return nil, fmt.Errorf("account %s already exists", seed.Email)
	}
	acc := &Account{
		ID:           d.id(),
		Username:     seed.Username,
		Email:        seed.Email,
		PasswordHash: string(hash),
		Role:         seed.Role,
		Verified:     seed.Verified,
		Code:         seed.Code,
	}
	d.accounts[key] = acc
	return acc, nil
}

// Authenticate checks credentials
func (d *Data) Authenticate(email, password string) (*Account, error) {
	d.mu.RLock()
	acc, ok := d.accounts[strings.ToLower(strings.TrimSpace(email))]
	d.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !acc.Verified {
		return nil, ErrNotVerified
	}
	return acc, nil
}

// Account returns the account with id
func (d *Data) Account(id int64) (*Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, acc := range d.accounts {
		if acc.ID == id {
			return acc, true
		}
	}
	return nil, false
}

// Verify marks the account verified when code matches
func (d *Data) Verify(email, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	acc, ok := d.accounts[strings.ToLower(strings.TrimSpace(email))]
	switch {
	case !ok:
		return ErrUserNotFound
	case acc.Verified:
		return ErrAlreadyVerified
	case acc.Code == "" || acc.Code != strings.TrimSpace(code):
		return ErrInvalidCode
	}
	acc.Verified = true
	acc.Code = ""
	return nil
}

// NewCode issues a fresh verification code
func (d *Data) NewCode(email string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	acc, ok := d.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return "", ErrUserNotFound
	}
	if acc.Verified {
		return "", ErrAlreadyVerified
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	acc.Code = fmt.Sprintf("%06d", n.Int64())
	return acc.Code, nil
}

// PendingCode returns the outstanding verification code of an account
func (d *Data) PendingCode(email string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !ok || acc.Code == "" {
		return "", false
	}
	return acc.Code, true
}

// AddPost publishes a post
func (d *Data) AddPost(p models.Post) models.Post {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.ID == 0 {
		p.ID = d.id()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	d.posts = append(d.posts, p)
	return p
}

// Posts returns one page of posts, newest first, with comment counts
func (d *Data) Posts(page, perPage int) ([]models.Post, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := make([]models.Post, len(d.posts))
	copy(all, d.posts)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	start := (page - 1) * perPage
	if start >= total {
		return []models.Post{}, total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	out := all[start:end]
	for i := range out {
		out[i].CommentCount = len(d.comments[out[i].Slug])
	}
	return out, total
}

func (d *Data) hasPost(slug string) bool {
	for _, p := range d.posts {
		if p.Slug == slug {
			return true
		}
	}
	return false
}

// Comments returns the flat comment list of a post
func (d *Data) Comments(slug string) ([]models.Comment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.hasPost(slug) {
		return nil, ErrPostNotFound
	}
	out := make([]models.Comment, len(d.comments[slug]))
	copy(out, d.comments[slug])
	return out, nil
}

// AddComment stores a comment; a parent must belong to the same post
func (d *Data) AddComment(slug, author, content string, parentID *int64) (models.Comment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasPost(slug) {
		return models.Comment{}, ErrPostNotFound
	}
	if parentID != nil {
		found := false
		for _, c := range d.comments[slug] {
			if c.ID == *parentID {
				found = true
				break
			}
		}
		if !found {
			return models.Comment{}, ErrParentNotFound
		}
	}

	c := models.Comment{
		ID:        d.id(),
		ParentID:  parentID,
		Content:   content,
		Author:    author,
		PostSlug:  slug,
		CreatedAt: time.Now().UTC(),
	}
	d.comments[slug] = append(d.comments[slug], c)
	return c, nil
}

// Seed fills the state with accounts and a couple of posts
func (d *Data) Seed(accounts []SeedAccount) error {
	for _, a := range accounts {
		if _, err := d.AddAccount(a); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	d.AddPost(models.Post{Title: "Hello World", Slug: "hello-world", Author: "admin", Category: "news", CreatedAt: now.Add(-48 * time.Hour), Tags: []string{"intro"}})
	d.AddPost(models.Post{Title: "Second Post", Slug: "second-post", Author: "admin", Category: "guides", CreatedAt: now.Add(-24 * time.Hour)})

	root, err := d.AddComment("hello-world", "reader", "Great first post!", nil)
	if err != nil {
		return err
	}
	_, err = d.AddComment("hello-world", "admin", "Thanks!", &root.ID)
	return err
}
