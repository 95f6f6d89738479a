package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PendingEmail is the one value carried across page views: the email that
// still awaits verification
type PendingEmail interface {
	PendingEmail() (string, bool)
	SetPendingEmail(email string) error
	ClearPendingEmail() error
}

// StoredCookie is the persisted form of a session cookie
type StoredCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

type state struct {
	PendingVerificationEmail string                    `json:"pending_verification_email,omitempty"`
	Cookies                  map[string][]StoredCookie `json:"cookies,omitempty"` // keyed by origin
}

// FileStore persists client state as a JSON file
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path; the file is created lazily
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() (*state, error) {
	st := &state{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	return st, nil
}

func (s *FileStore) save(st *state) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) update(fn func(*state)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return err
	}
	fn(st)
	return s.save(st)
}

// PendingEmail returns the stored pending verification email
func (s *FileStore) PendingEmail() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil || st.PendingVerificationEmail == "" {
		return "", false
	}
	return st.PendingVerificationEmail, true
}

// SetPendingEmail stores email as pending verification
func (s *FileStore) SetPendingEmail(email string) error {
	return s.update(func(st *state) { st.PendingVerificationEmail = email })
}

// ClearPendingEmail forgets the pending email
func (s *FileStore) ClearPendingEmail() error {
	return s.update(func(st *state) { st.PendingVerificationEmail = "" })
}

// Cookies returns the cookies persisted for origin
func (s *FileStore) Cookies(origin string) ([]*http.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []*http.Cookie
	for _, c := range st.Cookies[origin] {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	return out, nil
}

// SetCookies replaces the cookies persisted for origin
func (s *FileStore) SetCookies(origin string, cookies []*http.Cookie) error {
	return s.update(func(st *state) {
		if st.Cookies == nil {
			st.Cookies = make(map[string][]StoredCookie)
		}
		if len(cookies) == 0 {
			delete(st.Cookies, origin)
			return
		}
		stored := make([]StoredCookie, 0, len(cookies))
		for _, c := range cookies {
			stored = append(stored, StoredCookie{
				Name:     c.Name,
				Value:    c.Value,
				Path:     c.Path,
				Domain:   c.Domain,
				Expires:  c.Expires,
				Secure:   c.Secure,
				HttpOnly: c.HttpOnly,
			})
		}
		st.Cookies[origin] = stored
	})
}

// MemoryStore keeps the pending email in memory
type MemoryStore struct {
	mu    sync.Mutex
	email string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) PendingEmail() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.email, m.email != ""
}

func (m *MemoryStore) SetPendingEmail(email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.email = email
	return nil
}

func (m *MemoryStore) ClearPendingEmail() error {
	return m.SetPendingEmail("")
}
