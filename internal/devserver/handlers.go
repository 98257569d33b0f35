package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"qazna.org/console/internal/audit"
	"qazna.org/console/internal/identity"
	"qazna.org/console/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type meResponse struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	OrgID       *string  `json:"org_id"`
	TOTPEnabled bool     `json:"totp_enabled"`
	Permissions []string `json:"permissions"`
}

type totpSetupResponse struct {
	Secret string `json:"secret"`
	QRCode string `json:"qr_code"`
}

type totpVerifyRequest struct {
	Code string `json:"totp_code"`
}

// fieldError mirrors the list-shaped validation detail of the real API.
type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "console-devserver",
		"version": s.version,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := s.users.Authenticate(req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), audit.EventLoginRejected, map[string]any{"email": strings.ToLower(req.Email)})
		writeError(w, r, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	token, expires, err := s.tokens.Issue(user.ID, user.Roles)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventTokenIssued, map[string]any{
		"user_id":    user.ID,
		"expires_at": expires,
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.tokens.ttl.Seconds()),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	u := p.user
	var org *string
	if u.OrgID != "" {
		org = &u.OrgID
	}
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:      u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Roles:       roles,
		OrgID:       org,
		TOTPEnabled: u.TOTPEnabled,
		Permissions: identity.Permissions(s.roles.Resolve(u.Roles)),
	})
}

func (s *Server) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	orgs := p.user.Organizations
	if orgs == nil {
		orgs = []identity.Membership{}
	}
	writeJSON(w, http.StatusOK, orgs)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	s.tokens.Revoke(p.claims)
	_ = audit.LogEvent(r.Context(), audit.EventTokenRevoked, map[string]any{"user_id": p.user.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if p.user.TOTPEnabled {
		writeError(w, r, http.StatusConflict, "TOTP already enabled")
		return
	}
	raw, encoded, err := NewTOTPSecret()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "secret generation failed")
		return
	}
	if err := s.users.BeginTOTP(p.user.ID, raw); err != nil {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, totpSetupResponse{
		Secret: encoded,
		QRCode: ProvisionURI(s.issuer, p.user.Email, encoded),
	})
}

func (s *Server) handleTOTPVerify(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req totpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Code) != totpDigits || strings.Trim(req.Code, "0123456789") != "" {
		writeDetail(w, r, http.StatusUnprocessableEntity, []fieldError{{
			Loc:  []string{"body", "totp_code"},
			Msg:  "totp_code must be 6 digits",
			Type: "value_error",
		}})
		return
	}
	secret, ok := s.users.PendingTOTP(p.user.ID)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "TOTP setup not started")
		return
	}
	if !VerifyTOTP(secret, req.Code, s.now()) {
		_ = audit.LogEvent(r.Context(), audit.EventTOTPVerifyBad, map[string]any{"user_id": p.user.ID})
		writeError(w, r, http.StatusBadRequest, "Invalid TOTP code")
		return
	}
	if err := s.users.CompleteTOTP(p.user.ID); err != nil {
		writeError(w, r, http.StatusBadRequest, "TOTP setup not started")
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventTOTPEnabled, map[string]any{"user_id": p.user.ID})
	writeJSON(w, http.StatusOK, map[string]any{"detail": "TOTP enabled"})
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, detail string) {
	writeDetail(w, r, code, detail)
}

func writeDetail(w http.ResponseWriter, r *http.Request, code int, detail any) {
	rid := requestIDFrom(r.Context())
	level := obs.LevelInfo
	if code >= 500 {
		level = obs.LevelError
	}
	obs.Log(level, "request_error", map[string]any{
		"request_id": rid,
		"status":     code,
		"path":       r.URL.Path,
		"detail":     detail,
	})
	writeJSON(w, code, map[string]any{"detail": detail, "request_id": rid})
}
