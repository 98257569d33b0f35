// Package session owns the authenticated session: the identity confirmed by
// the dashboard API, its organization memberships and the loading flag that
// the route guard waits on.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"qazna.org/console/internal/api"
	"qazna.org/console/internal/audit"
	"qazna.org/console/internal/credstore"
	"qazna.org/console/internal/identity"
	"qazna.org/console/internal/obs"
)

// ErrSessionNotEstablished is returned by Login and Refresh whenever the
// session could not be confirmed. Causes are not distinguished.
var ErrSessionNotEstablished = errors.New("session: not established")

// Fetcher loads the identity and memberships behind the stored credential.
// *api.Dashboard implements it.
type Fetcher interface {
	Me(ctx context.Context) (api.Me, error)
	Organizations(ctx context.Context) ([]identity.Membership, error)
}

// Manager is the single owner of the session state. Mutations are serialized;
// fetches run without the lock and their results are applied only when no
// login, logout or invalidation happened while they were in flight.
type Manager struct {
	store    credstore.Store
	fetcher  Fetcher
	roles    identity.RoleMap
	notifier Notifier

	mu       sync.Mutex
	state    State
	epoch    uint64
	hydrated bool
	subs     *broadcast
}

// Option configures a Manager.
type Option func(*Manager)

// WithRoleMap sets the role to permission mapping used to derive permissions.
func WithRoleMap(m identity.RoleMap) Option {
	return func(mgr *Manager) {
		if m != nil {
			mgr.roles = m
		}
	}
}

// WithNotifier sets where user-facing notices go.
func WithNotifier(n Notifier) Option {
	return func(mgr *Manager) {
		if n != nil {
			mgr.notifier = n
		}
	}
}

// NewManager returns a manager in the loading state. Call Hydrate once the
// host is ready.
func NewManager(store credstore.Store, fetcher Fetcher, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		fetcher:  fetcher,
		roles:    identity.DefaultRoleMap,
		notifier: LogNotifier{},
		state:    State{Loading: true},
		subs:     newBroadcast(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Hydrate restores the session from the stored credential. Only the first
// call has any effect. Failures leave a clean logged-out state.
func (m *Manager) Hydrate(ctx context.Context) {
	m.mu.Lock()
	if m.hydrated {
		m.mu.Unlock()
		return
	}
	m.hydrated = true
	epoch := m.epoch
	m.mu.Unlock()

	token, err := m.store.Get(ctx)
	if err != nil || token == "" {
		if err != nil && !errors.Is(err, credstore.ErrNotFound) {
			obs.Log(obs.LevelWarn, "credential_read_failed", map[string]any{"error": err.Error()})
		}
		m.mu.Lock()
		if m.epoch == epoch {
			m.setLocked(State{})
		}
		m.mu.Unlock()
		m.record(ctx, audit.EventHydrated, map[string]any{"authenticated": false})
		return
	}

	id, orgs, err := m.fetch(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		obs.Log(obs.LevelDebug, "session_fetch_discarded", map[string]any{"op": "hydrate"})
		return
	}
	if err != nil {
		m.dropLocked(ctx, "hydrate", err)
		return
	}
	m.setLocked(State{Identity: &id, Organizations: orgs})
	m.record(identity.ContextWithIdentity(ctx, &id), audit.EventHydrated, map[string]any{"authenticated": true})
}

// Login stores credential and confirms it with the server. On failure the
// session is left cleanly logged out.
func (m *Manager) Login(ctx context.Context, credential string) error {
	m.mu.Lock()
	m.epoch++
	m.hydrated = true
	epoch := m.epoch
	if err := m.store.Set(ctx, credential); err != nil {
		if clearErr := m.store.Clear(context.WithoutCancel(ctx)); clearErr != nil {
			obs.Log(obs.LevelError, "credential_clear_failed", map[string]any{"op": "login", "error": clearErr.Error()})
		}
		m.setLocked(State{})
		m.mu.Unlock()
		m.record(ctx, audit.EventLoginFailed, map[string]any{"stage": "store", "error": err.Error()})
		return ErrSessionNotEstablished
	}
	m.setLocked(State{})
	m.mu.Unlock()

	id, orgs, err := m.fetch(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		m.record(ctx, audit.EventLoginFailed, map[string]any{"stage": "superseded"})
		return ErrSessionNotEstablished
	}
	if err != nil {
		m.dropLocked(ctx, "login", err)
		return ErrSessionNotEstablished
	}
	m.setLocked(State{Identity: &id, Organizations: orgs})
	m.record(identity.ContextWithIdentity(ctx, &id), audit.EventLogin, map[string]any{
		"organizations": len(orgs),
	})
	m.notifier.Success(fmt.Sprintf("Signed in as %s", displayName(id)))
	return nil
}

// Logout ends the session synchronously. It never fails; store errors are
// logged.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.hydrated = true
	prev := m.state.Identity
	if err := m.store.Clear(context.Background()); err != nil {
		obs.Log(obs.LevelError, "credential_clear_failed", map[string]any{"op": "logout", "error": err.Error()})
	}
	m.setLocked(State{})
	m.record(identity.ContextWithIdentity(context.Background(), prev), audit.EventLogout, nil)
}

// Refresh re-fetches the identity and replaces it wholesale. Failure follows
// the logged-out policy.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	token, err := m.store.Get(ctx)
	if err != nil || token == "" {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.epoch == epoch {
			m.epoch++
			m.setLocked(State{})
		}
		return ErrSessionNotEstablished
	}

	id, orgs, err := m.fetch(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return ErrSessionNotEstablished
	}
	if err != nil {
		m.dropLocked(ctx, "refresh", err)
		return ErrSessionNotEstablished
	}
	m.setLocked(State{Identity: &id, Organizations: orgs})
	m.record(identity.ContextWithIdentity(ctx, &id), audit.EventRefreshed, nil)
	return nil
}

// Invalidated empties the session after the transport rejected the
// credential. The transport has already cleared the store; register this
// with the request client factory's teardown.
func (m *Manager) Invalidated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.hydrated = true
	prev := m.state.Identity
	m.setLocked(State{})
	m.record(identity.ContextWithIdentity(context.Background(), prev), audit.EventInvalidated, nil)
}

// State returns a snapshot of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Identity returns a copy of the confirmed identity.
func (m *Manager) Identity() (*identity.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Identity.Clone(), m.state.Identity != nil
}

// Organizations returns the memberships in server order.
func (m *Manager) Organizations() []identity.Membership {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]identity.Membership(nil), m.state.Organizations...)
}

// HasPermission reports whether the confirmed identity holds label.
func (m *Manager) HasPermission(label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Identity.HasPermission(label)
}

// HasRole reports whether the confirmed identity carries role.
func (m *Manager) HasRole(role string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Identity.HasRole(role)
}

// Subscribe returns a channel that receives the current state followed by
// every change until ctx ends.
func (m *Manager) Subscribe(ctx context.Context) <-chan State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs.subscribe(ctx, m.state.clone())
}

func (m *Manager) fetch(ctx context.Context) (identity.Identity, []identity.Membership, error) {
	me, err := m.fetcher.Me(ctx)
	if err != nil {
		return identity.Identity{}, nil, fmt.Errorf("fetch identity: %w", err)
	}
	orgs, err := m.fetcher.Organizations(ctx)
	if err != nil {
		return identity.Identity{}, nil, fmt.Errorf("fetch organizations: %w", err)
	}
	if orgs == nil {
		orgs = []identity.Membership{}
	}
	return me.Identity(m.roles), orgs, nil
}

// dropLocked clears the credential and state after a failed fetch.
func (m *Manager) dropLocked(ctx context.Context, op string, cause error) {
	m.epoch++
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		obs.Log(obs.LevelError, "credential_clear_failed", map[string]any{"op": op, "error": err.Error()})
	}
	m.setLocked(State{})
	event := audit.EventLoginFailed
	if op != "login" {
		event = audit.EventInvalidated
	}
	m.record(ctx, event, map[string]any{"op": op, "error": cause.Error()})
}

func (m *Manager) setLocked(st State) {
	m.state = st
	m.subs.publish(st)
}

func (m *Manager) record(ctx context.Context, event string, fields map[string]any) {
	obs.SessionTransition(event)
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Log(obs.LevelWarn, "audit_failed", map[string]any{"event": event, "error": err.Error()})
	}
}

func displayName(id identity.Identity) string {
	switch {
	case id.Username != "":
		return id.Username
	case id.Email != "":
		return id.Email
	default:
		return id.ID
	}
}
