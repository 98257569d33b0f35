// Package api holds typed calls to the dashboard endpoints the session layer
// depends on. Every call goes through a transport.Client and therefore obeys
// the credential contract.
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"qazna.org/console/internal/identity"
	"qazna.org/console/internal/transport"
)

// Endpoint paths.
const (
	PathLogin         = "/auth/login"
	PathLogout        = "/auth/logout"
	PathMe            = "/auth/me"
	PathTOTPSetup     = "/auth/totp/setup"
	PathTOTPVerify    = "/auth/totp/verify"
	PathOrganizations = "/organizations/basic"
)

var ErrMalformedResponse = errors.New("api: malformed response")

// Me is the identity payload returned by GET /auth/me.
type Me struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	OrgID       *string  `json:"org_id,omitempty"`
	TOTPEnabled bool     `json:"totp_enabled"`
	Permissions []string `json:"permissions,omitempty"`
}

// Identity converts the payload into an identity, deriving permissions through
// roleMap and adding any explicit grants.
func (m Me) Identity(roleMap identity.RoleMap) identity.Identity {
	return identity.New(m.UserID, m.Username, m.Email, m.Roles, m.OrgID, m.TOTPEnabled, roleMap, m.Permissions)
}

// TokenResponse is returned by the login collaborator.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// TOTPSetup carries the enrollment materials.
type TOTPSetup struct {
	Secret string `json:"secret"`
	QRCode string `json:"qr_code"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Code string `json:"totp_code"`
}

// Dashboard is the typed client of the dashboard API.
type Dashboard struct {
	client *transport.Client
}

// New wraps client.
func New(client *transport.Client) *Dashboard {
	return &Dashboard{client: client}
}

// Me fetches the identity behind the stored credential.
func (d *Dashboard) Me(ctx context.Context) (Me, error) {
	var out Me
	if err := d.client.GetJSON(ctx, PathMe, &out); err != nil {
		return Me{}, err
	}
	if strings.TrimSpace(out.UserID) == "" {
		return Me{}, fmt.Errorf("%w: %s without user_id", ErrMalformedResponse, PathMe)
	}
	return out, nil
}

// Organizations lists the memberships of the current identity in server order.
func (d *Dashboard) Organizations(ctx context.Context) ([]identity.Membership, error) {
	var out []identity.Membership
	if err := d.client.GetJSON(ctx, PathOrganizations, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Login exchanges email and password for a credential.
func (d *Dashboard) Login(ctx context.Context, email, password string) (string, error) {
	var out TokenResponse
	if err := d.client.PostJSON(ctx, PathLogin, loginRequest{Email: email, Password: password}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", fmt.Errorf("%w: %s without access_token", ErrMalformedResponse, PathLogin)
	}
	return out.AccessToken, nil
}

// Logout asks the server to revoke the current credential.
func (d *Dashboard) Logout(ctx context.Context) error {
	return d.client.PostJSON(ctx, PathLogout, nil, nil)
}

// SetupTOTP requests fresh enrollment materials.
func (d *Dashboard) SetupTOTP(ctx context.Context) (TOTPSetup, error) {
	var out TOTPSetup
	if err := d.client.PostJSON(ctx, PathTOTPSetup, nil, &out); err != nil {
		return TOTPSetup{}, err
	}
	if out.Secret == "" {
		return TOTPSetup{}, fmt.Errorf("%w: %s without secret", ErrMalformedResponse, PathTOTPSetup)
	}
	return out, nil
}

// VerifyTOTP submits a six-digit code.
func (d *Dashboard) VerifyTOTP(ctx context.Context, code string) error {
	return d.client.PostJSON(ctx, PathTOTPVerify, verifyRequest{Code: code}, nil)
}
