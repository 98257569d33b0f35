package guard

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"qazna.org/console/internal/identity"
	"qazna.org/console/internal/nav"
)

var ErrInvalidTable = errors.New("guard: invalid route table")

// Table maps route paths to requirements. A requirement applies to its path
// and everything below it; the longest matching path wins.
type Table map[string]Requirement

// DefaultTable guards the dashboard sections.
var DefaultTable = Table{
	"/dashboard":   {Permission: identity.PermDashboardView, RedirectTo: "/account"},
	"/keys":        {Permission: identity.PermKeysRead},
	"/models":      {Permission: identity.PermModelsRead},
	"/usage":       {Permission: identity.PermUsageRead},
	"/rate-limits": {Permission: identity.PermRateLimitsManage},
	"/users":       {Permission: identity.PermUsersManage},
	"/orgs":        {Permission: identity.PermOrgsManage},
	"/settings":    {Permission: identity.PermSettingsManage},
	"/account":     {},
}

// Validate checks paths, permission labels and redirect targets. A route may
// not redirect to itself or to a route that is itself guarded by the same
// permission.
func (t Table) Validate() error {
	paths := make([]string, 0, len(t))
	for p := range t {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		req := t[p]
		if !strings.HasPrefix(p, "/") || nav.Clean(p) != p {
			return fmt.Errorf("%w: path %q must be a clean absolute path", ErrInvalidTable, p)
		}
		perm := strings.TrimSpace(req.Permission)
		if perm != "" && !identity.ValidLabel(perm) {
			return fmt.Errorf("%w: permission %q on %s", ErrInvalidTable, req.Permission, p)
		}
		if req.RedirectTo == "" {
			continue
		}
		if !strings.HasPrefix(req.RedirectTo, "/") {
			return fmt.Errorf("%w: redirect %q on %s must be absolute", ErrInvalidTable, req.RedirectTo, p)
		}
		target := nav.Clean(req.RedirectTo)
		if under(target, p) {
			return fmt.Errorf("%w: %s redirects into itself", ErrInvalidTable, p)
		}
		if other, ok := t.Lookup(target); ok && perm != "" && strings.TrimSpace(other.Permission) == perm {
			return fmt.Errorf("%w: %s redirects to %s guarded by the same permission", ErrInvalidTable, p, target)
		}
	}
	return nil
}

// Lookup finds the requirement for path.
func (t Table) Lookup(path string) (Requirement, bool) {
	path = nav.Clean(path)
	best := ""
	var found Requirement
	ok := false
	for p, req := range t {
		if under(path, p) && len(p) > len(best) {
			best, found, ok = p, req, true
		}
	}
	return found, ok
}

// Routes returns the guarded paths in order.
func (t Table) Routes() []string {
	out := make([]string, 0, len(t))
	for p := range t {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// under reports whether path equals prefix or lies below it.
func under(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
