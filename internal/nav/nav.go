// Package nav tracks the application's current location and performs
// navigation on behalf of the request clients and the route guard.
package nav

import (
	"strings"
	"sync"
)

// Well-known locations.
const (
	LoginPath       = "/login"
	DefaultFallback = "/dashboard"
)

// Navigator is the hosting application's navigation primitive.
type Navigator interface {
	Location() string
	Navigate(to string)
}

// Router is an in-process Navigator that records history and notifies
// listeners on every navigation.
type Router struct {
	mu        sync.Mutex
	location  string
	history   []string
	listeners []func(from, to string)
}

var _ Navigator = (*Router)(nil)

// NewRouter starts at the given location ("/" when empty).
func NewRouter(start string) *Router {
	start = Clean(start)
	return &Router{location: start, history: []string{start}}
}

// Location returns the current location.
func (r *Router) Location() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.location
}

// Navigate moves to the given location and notifies listeners.
func (r *Router) Navigate(to string) {
	to = Clean(to)
	r.mu.Lock()
	from := r.location
	r.location = to
	r.history = append(r.history, to)
	listeners := append([]func(from, to string){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(from, to)
	}
}

// OnNavigate registers fn to be called after every navigation.
func (r *Router) OnNavigate(fn func(from, to string)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// History returns every location visited, oldest first.
func (r *Router) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.history...)
}

// Clean normalizes a location: leading slash, no trailing slash, no query.
func Clean(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// IsLogin reports whether location is the login boundary.
func IsLogin(location, loginPath string) bool {
	if loginPath == "" {
		loginPath = LoginPath
	}
	return Clean(location) == Clean(loginPath)
}
