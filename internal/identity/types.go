package identity

import "strings"

// Identity is the authenticated principal as confirmed by the dashboard API.
type Identity struct {
	ID             string
	Username       string
	Email          string
	Roles          []string
	Permissions    map[string]struct{}
	OrganizationID *string
	TOTPEnabled    bool
}

// Membership is an organization the identity can act within.
type Membership struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// New builds an Identity whose permission set is the union of the role-derived
// permissions and any explicit grants.
func New(id, username, email string, roles []string, orgID *string, totpEnabled bool, roleMap RoleMap, grants []string) Identity {
	roles = normalizeLabels(roles)
	set := roleMap.Resolve(roles)
	for _, p := range normalizeLabels(grants) {
		set[p] = struct{}{}
	}
	if orgID != nil {
		trimmed := strings.TrimSpace(*orgID)
		if trimmed == "" {
			orgID = nil
		} else {
			orgID = &trimmed
		}
	}
	return Identity{
		ID:             strings.TrimSpace(id),
		Username:       username,
		Email:          email,
		Roles:          roles,
		Permissions:    set,
		OrganizationID: orgID,
		TOTPEnabled:    totpEnabled,
	}
}

// HasPermission reports whether the identity holds the permission label.
func (i *Identity) HasPermission(label string) bool {
	if i == nil {
		return false
	}
	_, ok := i.Permissions[strings.TrimSpace(strings.ToLower(label))]
	return ok
}

// HasRole reports whether the identity carries the role label.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.TrimSpace(strings.ToLower(role))
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots handed out never alias manager state.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Roles = append([]string(nil), i.Roles...)
	out.Permissions = make(map[string]struct{}, len(i.Permissions))
	for k := range i.Permissions {
		out.Permissions[k] = struct{}{}
	}
	if i.OrganizationID != nil {
		org := *i.OrganizationID
		out.OrganizationID = &org
	}
	return &out
}

func normalizeLabels(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
