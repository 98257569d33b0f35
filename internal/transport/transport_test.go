package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qazna.org/console/internal/credstore"
	"qazna.org/console/internal/ids"
	"qazna.org/console/internal/nav"
)

// countingNavigator records every navigation.
type countingNavigator struct {
	mu       sync.Mutex
	location string
	calls    []string
}

func (n *countingNavigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

func (n *countingNavigator) Navigate(to string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.location = to
	n.calls = append(n.calls, to)
}

func (n *countingNavigator) navigations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

// countingStore counts effective clears.
type countingStore struct {
	credstore.Store
	clears atomic.Int32
}

func (s *countingStore) Clear(ctx context.Context) error {
	if _, err := s.Store.Get(ctx); err == nil {
		s.clears.Add(1)
	}
	return s.Store.Clear(ctx)
}

func newFixture(t *testing.T, handler http.HandlerFunc) (*Factory, *Client, *countingStore, *countingNavigator) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := &countingStore{Store: credstore.NewMemory()}
	navigator := &countingNavigator{location: "/dashboard"}
	factory := NewFactory(store, navigator)
	client, err := factory.New("dashboard", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return factory, client, store, navigator
}

func TestAttachesBearerCredential(t *testing.T) {
	var gotAuth, gotRID string
	_, client, store, _ := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRID = r.Header.Get(ids.RequestIDHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	_ = store.Set(context.Background(), "tok-1")

	var out struct {
		OK bool `json:"ok"`
	}
	if err := client.GetJSON(context.Background(), "/auth/me", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected decoded body")
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("unexpected Authorization header %q", gotAuth)
	}
	if !ids.Valid(gotRID) {
		t.Fatalf("expected request id, got %q", gotRID)
	}
}

func TestAnonymousRequestsProceedUnmodified(t *testing.T) {
	var gotAuth string
	var sawHeader bool
	_, client, _, _ := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, sawHeader = r.Header["Authorization"]
		w.WriteHeader(http.StatusNoContent)
	})
	if err := client.PostJSON(context.Background(), "/auth/login", map[string]string{"email": "a@b.c"}, nil); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if sawHeader || gotAuth != "" {
		t.Fatalf("expected no Authorization header, got %q", gotAuth)
	}
}

func TestCredentialOverridesCallerHeader(t *testing.T) {
	var gotAuth string
	_, client, store, _ := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	})
	_ = store.Set(context.Background(), "stored")

	req, err := http.NewRequest(http.MethodGet, client.BaseURL()+"/raw", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer forged")
	resp, err := client.HTTPClient().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if gotAuth != "Bearer stored" {
		t.Fatalf("expected stored credential to win, got %q", gotAuth)
	}
}

func TestUnauthorizedTearsDownAndPropagates(t *testing.T) {
	factory, client, store, navigator := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	})
	_ = store.Set(context.Background(), "expired")
	var hooks atomic.Int32
	factory.OnInvalidate(func() { hooks.Add(1) })

	err := client.GetJSON(context.Background(), "/keys", nil)
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || !strings.Contains(string(se.Body), "Could not validate") {
		t.Fatalf("expected body to be preserved, got %v", err)
	}
	if _, err := store.Get(context.Background()); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("expected store cleared, got %v", err)
	}
	if got := navigator.navigations(); len(got) != 1 || got[0] != nav.LoginPath {
		t.Fatalf("expected single navigation to login, got %v", got)
	}
	if hooks.Load() != 1 {
		t.Fatalf("expected invalidation hook once, got %d", hooks.Load())
	}
}

func TestConcurrentRejectionsTearDownOnce(t *testing.T) {
	release := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(2)
	factory, dashboard, store, navigator := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		arrived.Done()
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	})
	_ = store.Set(context.Background(), "expiring")

	// Two independent clients from the same factory.
	keys, err := factory.New("keys", dashboard.BaseURL())
	if err != nil {
		t.Fatalf("New keys: %v", err)
	}
	usage, err := factory.New("usage", keys.BaseURL())
	if err != nil {
		t.Fatalf("New usage: %v", err)
	}

	errs := make(chan error, 2)
	go func() { errs <- keys.GetJSON(context.Background(), "/keys", nil) }()
	go func() { errs <- usage.GetJSON(context.Background(), "/usage", nil) }()
	arrived.Wait()
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; !IsUnauthorized(err) {
			t.Fatalf("expected both callers to see the rejection, got %v", err)
		}
	}
	if got := store.clears.Load(); got != 1 {
		t.Fatalf("expected exactly one effective clear, got %d", got)
	}
	if _, err := store.Get(context.Background()); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("expected store to stay empty, got %v", err)
	}
	if got := navigator.navigations(); len(got) != 1 {
		t.Fatalf("expected exactly one navigation, got %v", got)
	}
}

func TestRejectionOnLoginPageIsIgnored(t *testing.T) {
	_, client, store, navigator := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	navigator.location = nav.LoginPath
	_ = store.Set(context.Background(), "tok")

	if err := client.GetJSON(context.Background(), "/auth/me", nil); !IsUnauthorized(err) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
	if got, _ := store.Get(context.Background()); got != "tok" {
		t.Fatalf("store must be untouched on the login page")
	}
	if len(navigator.navigations()) != 0 {
		t.Fatalf("unexpected navigation")
	}
}

func TestAnonymousRejectionRedirectsWithoutTeardown(t *testing.T) {
	factory, client, store, navigator := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	navigator.location = "/keys"
	var hooks atomic.Int32
	factory.OnInvalidate(func() { hooks.Add(1) })

	for i := 0; i < 2; i++ {
		if err := client.GetJSON(context.Background(), "/keys", nil); !IsUnauthorized(err) {
			t.Fatalf("expected error to propagate, got %v", err)
		}
	}
	if got := navigator.navigations(); len(got) != 1 || got[0] != nav.LoginPath {
		t.Fatalf("expected one navigation to login, got %v", got)
	}
	if hooks.Load() != 0 || store.clears.Load() != 0 {
		t.Fatalf("anonymous rejection must not tear down: hooks=%d clears=%d", hooks.Load(), store.clears.Load())
	}
}

func TestStaleRejectionDoesNotClearNewerCredential(t *testing.T) {
	store := credstore.NewMemory()
	navigator := &countingNavigator{location: "/keys"}
	factory := NewFactory(store, navigator)
	_ = store.Set(context.Background(), "new-login")

	if factory.Teardown().Invalidate(context.Background(), "old-login") {
		t.Fatalf("stale rejection must be a no-op")
	}
	if factory.Teardown().Invalidate(context.Background(), "") {
		t.Fatalf("anonymous rejection must be a no-op")
	}
	if got, _ := store.Get(context.Background()); got != "new-login" {
		t.Fatalf("newer credential was cleared")
	}
	if len(navigator.navigations()) != 0 {
		t.Fatalf("unexpected navigation")
	}
}

func TestTransportFailurePropagates(t *testing.T) {
	store := credstore.NewMemory()
	factory := NewFactory(store, &countingNavigator{location: "/"}, WithTimeout(time.Second))
	client, err := factory.New("down", "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.GetJSON(context.Background(), "/auth/me", nil); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	factory := NewFactory(credstore.NewMemory(), nil)
	for _, raw := range []string{"", "localhost:8080", "ftp://example.com", "://bad"} {
		if _, err := factory.New("x", raw); !errors.Is(err, ErrInvalidBaseURL) {
			t.Fatalf("New(%q) expected ErrInvalidBaseURL, got %v", raw, err)
		}
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	factory := NewFactory(credstore.NewMemory(), nil, WithRateLimit(0.001, 1))
	client, err := factory.New("limited", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.GetJSON(context.Background(), "/a", nil); err != nil {
		t.Fatalf("first request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := client.GetJSON(ctx, "/b", nil); err == nil {
		t.Fatalf("expected limiter to refuse within deadline")
	}
}

func TestBasePathIsPreserved(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := NewFactory(credstore.NewMemory(), nil).New("api", srv.URL+"/api/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.GetJSON(context.Background(), "organizations/basic?limit=5", nil); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if gotPath != "/api/organizations/basic" || gotQuery != "limit=5" {
		t.Fatalf("unexpected request target %s?%s", gotPath, gotQuery)
	}
}
