package identity

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var labelPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)*$`)

// ValidLabel reports whether s is a well-formed role or permission label.
func ValidLabel(s string) bool { return labelPattern.MatchString(s) }

// RoleMap maps a role label to the permission labels it grants.
type RoleMap map[string][]string

// Resolve returns the permission set granted by roles. Unknown roles grant nothing.
func (m RoleMap) Resolve(roles []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, role := range roles {
		for _, p := range m[strings.TrimSpace(strings.ToLower(role))] {
			set[p] = struct{}{}
		}
	}
	return set
}

// Validate reports the first malformed role or permission label.
func (m RoleMap) Validate() error {
	roles := make([]string, 0, len(m))
	for role := range m {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		if !labelPattern.MatchString(role) {
			return fmt.Errorf("%w: role %q", ErrInvalidLabel, role)
		}
		for _, perm := range m[role] {
			if !labelPattern.MatchString(perm) {
				return fmt.Errorf("%w: permission %q for role %q", ErrInvalidLabel, perm, role)
			}
		}
	}
	return nil
}

// Normalize lower-cases and trims every label and drops duplicates.
func (m RoleMap) Normalize() RoleMap {
	out := make(RoleMap, len(m))
	for role, perms := range m {
		role = strings.TrimSpace(strings.ToLower(role))
		out[role] = append(out[role], normalizeLabels(perms)...)
		out[role] = normalizeLabels(out[role])
	}
	return out
}

// Permissions returns the sorted permission labels of a set.
func Permissions(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
