package transport

import (
	"context"
	"errors"
	"sync"

	"qazna.org/console/internal/credstore"
	"qazna.org/console/internal/nav"
	"qazna.org/console/internal/obs"
)

// Teardown performs the session teardown that follows a credential rejection.
// It is shared by every client a Factory produces.
//
// Invalidate acts at most once per credential: the rejection is honoured only
// while the credential the failing request carried is still the stored one.
// Later rejections of the same credential and rejections that raced a newer
// login are no-ops. A rejected anonymous request only navigates to the login
// boundary, and only while nothing is stored.
type Teardown struct {
	store     credstore.Store
	navigator nav.Navigator
	loginPath string

	mu    sync.Mutex
	hooks []func()
}

func newTeardown(store credstore.Store, navigator nav.Navigator, loginPath string) *Teardown {
	if loginPath == "" {
		loginPath = nav.LoginPath
	}
	return &Teardown{store: store, navigator: navigator, loginPath: nav.Clean(loginPath)}
}

// OnInvalidate registers fn to run after the store is cleared and before the
// navigation to the login boundary. Hooks run under the teardown lock and must
// not issue requests through the factory's clients.
func (t *Teardown) OnInvalidate(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.hooks = append(t.hooks, fn)
	t.mu.Unlock()
}

// Invalidate handles a rejection of sent, the credential attached to the
// failing request. It reports whether the store was cleared.
func (t *Teardown) Invalidate(ctx context.Context, sent string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.navigator != nil && nav.IsLogin(t.navigator.Location(), t.loginPath) {
		obs.Invalidation("ignored")
		return false
	}
	current, err := t.store.Get(ctx)
	if err != nil && !errors.Is(err, credstore.ErrNotFound) {
		obs.Log(obs.LevelWarn, "credential_read_failed", map[string]any{"error": err.Error()})
	}
	if sent == "" {
		// Nothing to clear. Send the host to sign in unless a login
		// happened while the request was in flight.
		if current == "" && t.navigator != nil {
			t.navigator.Navigate(t.loginPath)
			obs.Invalidation("redirect")
			return false
		}
		obs.Invalidation("ignored")
		return false
	}
	if current != sent {
		obs.Invalidation("ignored")
		return false
	}

	if err := t.store.Clear(context.WithoutCancel(ctx)); err != nil {
		obs.Log(obs.LevelError, "credential_clear_failed", map[string]any{"error": err.Error()})
	}
	for _, fn := range t.hooks {
		fn()
	}
	if t.navigator != nil {
		t.navigator.Navigate(t.loginPath)
	}
	obs.Invalidation("teardown")
	obs.Log(obs.LevelInfo, "credential_invalidated", map[string]any{"redirect": t.loginPath})
	return true
}
