package store

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// CookieStore persists cookies per origin
type CookieStore interface {
	Cookies(origin string) ([]*http.Cookie, error)
	SetCookies(origin string, cookies []*http.Cookie) error
}

// Jar is a cookie jar for one API origin that can be restored from and saved
// to a CookieStore, so a session survives between CLI invocations.
//
// cookiejar only hands back name and value, so the jar keeps its own copy of
// the Set-Cookie attributes (path, expiry) of every cookie the origin sets.
type Jar struct {
	*cookiejar.Jar
	origin *url.URL
	store  CookieStore

	mu   sync.Mutex
	kept map[string]*http.Cookie // by path + "|" + name
}

// NewJar creates a jar for the API at baseURL and loads persisted cookies
func NewJar(baseURL string, store CookieStore) (*Jar, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	origin := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}

	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	jar := &Jar{Jar: inner, origin: origin, store: store, kept: make(map[string]*http.Cookie)}
	if store != nil {
		cookies, err := store.Cookies(jar.key())
		if err != nil {
			return nil, err
		}
		for _, c := range cookies {
			if c.Path == "" {
				c.Path = "/"
			}
			// restored cookies are host-only for the origin
			c.Domain = ""
			jar.SetCookies(&url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: c.Path}, []*http.Cookie{c})
		}
	}
	return jar, nil
}

func (j *Jar) key() string {
	return j.origin.Scheme + "://" + j.origin.Host
}

// SetCookies implements http.CookieJar, recording the attributes of cookies
// set by the origin
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.Jar.SetCookies(u, cookies)
	if !strings.EqualFold(u.Host, j.origin.Host) {
		return
	}

	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		kept := *c
		kept.Domain = ""
		if kept.Path == "" || !strings.HasPrefix(kept.Path, "/") {
			kept.Path = defaultPath(u.Path)
		}
		if kept.MaxAge > 0 {
			kept.Expires = now.Add(time.Duration(kept.MaxAge) * time.Second)
			kept.MaxAge = 0
		}

		id := kept.Path + "|" + kept.Name
		if c.MaxAge < 0 || (!kept.Expires.IsZero() && !kept.Expires.After(now)) {
			delete(j.kept, id)
			continue
		}
		j.kept[id] = &kept
	}
}

// defaultPath is the cookie default-path of a request path (RFC 6265 5.1.4)
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	dir := path.Dir(p)
	if dir == "." {
		return "/"
	}
	return dir
}

// Save writes the live cookies of the origin back to the store
func (j *Jar) Save() error {
	if j.store == nil {
		return nil
	}

	now := time.Now()
	j.mu.Lock()
	var cookies []*http.Cookie
	for id, c := range j.kept {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			delete(j.kept, id)
			continue
		}
		copied := *c
		cookies = append(cookies, &copied)
	}
	j.mu.Unlock()

	sort.Slice(cookies, func(a, b int) bool {
		if cookies[a].Path != cookies[b].Path {
			return cookies[a].Path < cookies[b].Path
		}
		return cookies[a].Name < cookies[b].Name
	})
	return j.store.SetCookies(j.key(), cookies)
}
