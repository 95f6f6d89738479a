// Package page models the lifetime of one page view: navigation creates a
// view, and the next navigation tears it down together with every workflow
// controller it owns.
package page

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/sitegate/internal/logging"
)

// Closer is implemented by controllers owned by a view
type Closer interface {
	Close()
}

// Resetter is implemented by per-view caches invalidated on navigation
type Resetter interface {
	Reset()
}

// View is a single page view
type View struct {
	path   string
	query  url.Values
	locale string

	ctx  context.Context
	done chan struct{}

	mu     sync.Mutex
	owned  []Closer
	closed bool
}

// Path returns the path the view was navigated to, without the query
func (v *View) Path() string { return v.path }

// Query returns the view's query parameters
func (v *View) Query() url.Values { return v.query }

// Locale returns the active locale segment
func (v *View) Locale() string { return v.locale }

// Context is the context for the view's requests. It follows the router's
// base context only: tearing the view down does not abort requests already
// in flight, their completions are dropped by the closed controllers.
func (v *View) Context() context.Context { return v.ctx }

// Done is closed when the view is torn down
func (v *View) Done() <-chan struct{} { return v.done }

// Own ties c to the view's lifetime. Owning on a torn-down view closes c
// immediately.
func (v *View) Own(c Closer) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		c.Close()
		return
	}
	v.owned = append(v.owned, c)
	v.mu.Unlock()
}

// Closed reports whether the view has been torn down
func (v *View) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *View) teardown() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	owned := v.owned
	v.owned = nil
	v.mu.Unlock()

	for i := len(owned) - 1; i >= 0; i-- {
		owned[i].Close()
	}
	close(v.done)
}

// Router creates page views and tears down the previous one on navigation
type Router struct {
	base          context.Context
	locales       []string
	defaultLocale string
	resetters     []Resetter
	events        *logging.Source

	mu      sync.Mutex
	current *View
}

// NewRouter creates a router. resetters are invalidated on every navigation.
func NewRouter(ctx context.Context, locales []string, defaultLocale string, events *logging.Emitter, resetters ...Resetter) *Router {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Router{
		base:          ctx,
		locales:       locales,
		defaultLocale: defaultLocale,
		resetters:     resetters,
		events:        events.Source("page"),
	}
}

// Navigate tears down the current view, resets per-view caches and returns
// the new view for rawPath (which may carry a query string)
func (r *Router) Navigate(rawPath string) *View {
	path, query := splitPath(rawPath)

	next := &View{
		path:   path,
		query:  query,
		locale: LocaleFromPath(path, r.locales, r.defaultLocale),
		ctx:    r.base,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	r.mu.Unlock()

	if prev != nil {
		prev.teardown()
	}
	for _, res := range r.resetters {
		res.Reset()
	}

	r.events.Debug("navigate", map[string]any{"path": path, "locale": next.locale})
	return next
}

// Current returns the active view, or nil before the first navigation
func (r *Router) Current() *View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Close tears down the active view
func (r *Router) Close() {
	r.mu.Lock()
	prev := r.current
	r.current = nil
	r.mu.Unlock()
	if prev != nil {
		prev.teardown()
	}
}

func splitPath(raw string) (string, url.Values) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, url.Values{}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return path, u.Query()
}

// LocaleFromPath returns the first path segment when it is one of locales,
// else def
func LocaleFromPath(path string, locales []string, def string) string {
	seg := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	for _, l := range locales {
		if seg != "" && strings.EqualFold(seg, l) {
			return l
		}
	}
	return def
}
