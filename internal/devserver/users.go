package devserver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"qazna.org/console/internal/config"
	"qazna.org/console/internal/identity"
)

// User is a development account.
type User struct {
	ID            string
	Email         string
	Username      string
	PasswordHash  string
	Roles         []string
	OrgID         string
	Organizations []identity.Membership
	TOTPEnabled   bool
	totpSecret    []byte
	totpPending   []byte
}

// Directory is the in-memory user database of the development server.
type Directory struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]*User
}

// NewDirectory hashes the seed passwords with the given bcrypt cost
// (bcrypt.DefaultCost when cost is 0).
func NewDirectory(seeds []config.SeedUser, cost int) (*Directory, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	d := &Directory{
		byID:    make(map[string]*User, len(seeds)),
		byEmail: make(map[string]*User, len(seeds)),
	}
	for _, seed := range seeds {
		email := strings.ToLower(strings.TrimSpace(seed.Email))
		if email == "" || seed.Password == "" {
			return nil, fmt.Errorf("%w: seed user needs email and password", ErrInvalidInput)
		}
		if _, dup := d.byEmail[email]; dup {
			return nil, fmt.Errorf("%w: duplicate seed user %s", ErrInvalidInput, email)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", email, err)
		}
		username := seed.Username
		if username == "" {
			username = strings.SplitN(email, "@", 2)[0]
		}
		u := &User{
			ID:            uuid.NewString(),
			Email:         email,
			Username:      username,
			PasswordHash:  string(hash),
			Roles:         append([]string(nil), seed.Roles...),
			OrgID:         seed.OrgID,
			Organizations: append([]identity.Membership(nil), seed.Organizations...),
		}
		d.byID[u.ID] = u
		d.byEmail[email] = u
	}
	return d, nil
}

// Authenticate verifies email and password. Unknown users and wrong passwords
// are indistinguishable.
func (d *Directory) Authenticate(email, password string) (User, error) {
	d.mu.RLock()
	u, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	d.mu.RUnlock()
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return d.Get(u.ID)
}

// Get returns a copy of the user with id.
func (d *Directory) Get(id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	out := *u
	out.Roles = append([]string(nil), u.Roles...)
	out.Organizations = append([]identity.Membership(nil), u.Organizations...)
	return out, nil
}

// BeginTOTP stores a pending secret for id, replacing any earlier one.
func (d *Directory) BeginTOTP(id string, secret []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.totpPending = append([]byte(nil), secret...)
	return nil
}

// PendingTOTP returns the pending secret of id, if any.
func (d *Directory) PendingTOTP(id string) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok || len(u.totpPending) == 0 {
		return nil, false
	}
	return append([]byte(nil), u.totpPending...), true
}

// CompleteTOTP promotes the pending secret and enables the second factor.
func (d *Directory) CompleteTOTP(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return ErrNotFound
	}
	if len(u.totpPending) == 0 {
		return fmt.Errorf("%w: no pending totp setup", ErrInvalidInput)
	}
	u.totpSecret = u.totpPending
	u.totpPending = nil
	u.TOTPEnabled = true
	return nil
}
