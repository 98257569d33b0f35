package session

import "qazna.org/console/internal/identity"

// State is a snapshot of the session. Snapshots never alias manager state.
type State struct {
	Identity      *identity.Identity
	Organizations []identity.Membership
	Loading       bool
}

// Authenticated reports whether the server confirmed an identity in this session.
func (s State) Authenticated() bool { return s.Identity != nil }

// HasPermission reports whether the identity holds label; false when anonymous.
func (s State) HasPermission(label string) bool { return s.Identity.HasPermission(label) }

// HasRole reports whether the identity carries role; false when anonymous.
func (s State) HasRole(role string) bool { return s.Identity.HasRole(role) }

func (s State) clone() State {
	out := State{Loading: s.Loading, Identity: s.Identity.Clone()}
	if s.Organizations != nil {
		out.Organizations = append([]identity.Membership(nil), s.Organizations...)
	}
	return out
}
