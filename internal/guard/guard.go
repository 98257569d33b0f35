// Package guard decides whether a route may be shown for the current session.
package guard

import (
	"context"
	"strings"

	"qazna.org/console/internal/nav"
	"qazna.org/console/internal/session"
)

// Decision is the outcome of evaluating a route requirement.
type Decision int

const (
	// Loading means the session is still being established; no redirect may
	// be issued yet.
	Loading Decision = iota
	DenyUnauthenticated
	DenyForbidden
	Allow
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case DenyUnauthenticated:
		return "deny_unauthenticated"
	case DenyForbidden:
		return "deny_forbidden"
	case Allow:
		return "allow"
	default:
		return "unknown"
	}
}

// Requirement protects a route. An empty Permission admits any authenticated
// identity. RedirectTo overrides the fallback for forbidden access.
type Requirement struct {
	Permission string `yaml:"permission" json:"permission"`
	RedirectTo string `yaml:"redirect_to,omitempty" json:"redirect_to,omitempty"`
}

// Evaluate checks loading, then authentication, then permission.
func Evaluate(st session.State, req Requirement) Decision {
	if st.Loading {
		return Loading
	}
	if !st.Authenticated() {
		return DenyUnauthenticated
	}
	if p := strings.TrimSpace(req.Permission); p != "" && !st.HasPermission(p) {
		return DenyForbidden
	}
	return Allow
}

// Outcome pairs a decision with where the host should go. Destination is empty
// for Loading and Allow.
type Outcome struct {
	Decision    Decision
	Destination string
}

// Redirect reports whether the host must navigate away.
func (o Outcome) Redirect() bool {
	return o.Decision == DenyUnauthenticated || o.Decision == DenyForbidden
}

// Resolve evaluates req and picks the destination. loginPath and fallback
// default to nav.LoginPath and nav.DefaultFallback.
func Resolve(st session.State, req Requirement, loginPath, fallback string) Outcome {
	d := Evaluate(st, req)
	switch d {
	case DenyUnauthenticated:
		if loginPath == "" {
			loginPath = nav.LoginPath
		}
		return Outcome{Decision: d, Destination: nav.Clean(loginPath)}
	case DenyForbidden:
		dest := strings.TrimSpace(req.RedirectTo)
		if dest == "" {
			dest = fallback
		}
		if dest == "" {
			dest = nav.DefaultFallback
		}
		return Outcome{Decision: d, Destination: nav.Clean(dest)}
	default:
		return Outcome{Decision: d}
	}
}

// StateSource is what the guard reads the session from. *session.Manager
// implements it.
type StateSource interface {
	State() session.State
	Subscribe(ctx context.Context) <-chan session.State
}

// Guard evaluates the route table against the live session and drives the
// navigator.
type Guard struct {
	source    StateSource
	navigator nav.Navigator
	table     Table
	loginPath string
	fallback  string
}

// Option configures a Guard.
type Option func(*Guard)

// WithLoginPath overrides the login boundary.
func WithLoginPath(path string) Option {
	return func(g *Guard) {
		if strings.TrimSpace(path) != "" {
			g.loginPath = nav.Clean(path)
		}
	}
}

// WithFallback overrides the default destination for forbidden routes.
func WithFallback(path string) Option {
	return func(g *Guard) {
		if strings.TrimSpace(path) != "" {
			g.fallback = nav.Clean(path)
		}
	}
}

// New returns a guard over table.
func New(source StateSource, navigator nav.Navigator, table Table, opts ...Option) *Guard {
	g := &Guard{
		source:    source,
		navigator: navigator,
		table:     table,
		loginPath: nav.LoginPath,
		fallback:  nav.DefaultFallback,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check evaluates path against the current session without navigating.
// Routes missing from the table are always allowed.
func (g *Guard) Check(path string) Outcome {
	req, ok := g.table.Lookup(path)
	if !ok {
		return Outcome{Decision: Allow}
	}
	return Resolve(g.source.State(), req, g.loginPath, g.fallback)
}

// Navigate evaluates path and navigates to it or to the redirect destination.
// On Loading nothing happens; use Await to wait for a settled session.
func (g *Guard) Navigate(path string) Outcome {
	out := g.Check(path)
	switch {
	case out.Redirect():
		g.navigator.Navigate(out.Destination)
	case out.Decision == Allow:
		g.navigator.Navigate(nav.Clean(path))
	}
	return out
}

// Await blocks until the session has settled, then behaves like Navigate.
func (g *Guard) Await(ctx context.Context, path string) (Outcome, error) {
	if out := g.Check(path); out.Decision != Loading {
		return g.Navigate(path), nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates := g.source.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return Outcome{Decision: Loading}, ctx.Err()
		case st, ok := <-updates:
			if !ok {
				return Outcome{Decision: Loading}, ctx.Err()
			}
			if !st.Loading {
				return g.Navigate(path), nil
			}
		}
	}
}
