// Package transport produces request clients that share one credential
// contract: every outbound request carries the stored bearer credential and
// every credential rejection triggers a single session teardown.
package transport

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"qazna.org/console/internal/credstore"
	"qazna.org/console/internal/nav"
)

const defaultTimeout = 30 * time.Second

// Factory builds HTTP clients and gRPC interceptors bound to one credential
// store and one teardown.
type Factory struct {
	store    credstore.Store
	teardown *Teardown
	base     http.RoundTripper
	limiter  *rate.Limiter
	timeout  time.Duration
	login    string
}

// Option configures a Factory.
type Option func(*Factory)

// WithBaseTransport overrides the RoundTripper requests are finally sent with.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(f *Factory) {
		if rt != nil {
			f.base = rt
		}
	}
}

// WithRateLimit caps outbound requests across all clients of the factory.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(f *Factory) {
		if perSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTimeout sets the per-request timeout of produced HTTP clients.
func WithTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLoginPath overrides the login boundary (default nav.LoginPath).
func WithLoginPath(path string) Option {
	return func(f *Factory) {
		if strings.TrimSpace(path) != "" {
			f.login = path
		}
	}
}

// NewFactory returns a factory reading credentials from store and navigating
// through navigator on invalidation.
func NewFactory(store credstore.Store, navigator nav.Navigator, opts ...Option) *Factory {
	f := &Factory{
		store:   store,
		base:    http.DefaultTransport,
		timeout: defaultTimeout,
		login:   nav.LoginPath,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.teardown = newTeardown(store, navigator, f.login)
	return f
}

// Teardown returns the shared invalidation handler.
func (f *Factory) Teardown() *Teardown { return f.teardown }

// OnInvalidate registers a hook on the shared teardown.
func (f *Factory) OnInvalidate(fn func()) { f.teardown.OnInvalidate(fn) }

// New returns a client named name (used in metrics and errors) bound to baseURL.
func (f *Factory) New(name, baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidBaseURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrInvalidBaseURL
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = u.Host
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return &Client{
		name: name,
		base: u,
		http: &http.Client{
			Transport: f.RoundTripper(name),
			Timeout:   f.timeout,
		},
	}, nil
}

// RoundTripper returns the credential-propagating transport for client name.
// Any *http.Client built on it obeys the factory's contract.
func (f *Factory) RoundTripper(name string) http.RoundTripper {
	return &credentialTransport{
		name:     name,
		store:    f.store,
		teardown: f.teardown,
		limiter:  f.limiter,
		next:     f.base,
	}
}
