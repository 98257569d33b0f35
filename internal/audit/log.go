package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"qazna.org/console/internal/identity"
	"qazna.org/console/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Session events.
const (
	EventHydrated     = "session.hydrated"
	EventLogin        = "session.login"
	EventLoginFailed  = "session.login_failed"
	EventLogout       = "session.logout"
	EventInvalidated  = "session.invalidated"
	EventRefreshed    = "session.refreshed"
	EventTOTPEnrolled = "totp.enrolled"
	EventTOTPRejected = "totp.rejected"
)

// Dev server events.
const (
	EventLoginRejected = "auth.login.rejected"
	EventTokenIssued   = "auth.token.issued"
	EventTokenRevoked  = "auth.token.revoked"
	EventTOTPVerifyBad = "auth.totp.rejected"
	EventTOTPEnabled   = "auth.totp.enabled"
)

// redactedKeys never reach the log with their values.
var redactedKeys = map[string]struct{}{
	"token":        {},
	"access_token": {},
	"credential":   {},
	"password":     {},
	"secret":       {},
	"totp_code":    {},
}

const redacted = "[redacted]"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and identity context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if id, ok := identity.FromContext(ctx); ok {
		entry["user_id"] = id.ID
		if id.OrganizationID != nil {
			entry["org_id"] = *id.OrganizationID
		}
	}
	entry["fields"] = scrub(fields)

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

func scrub(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := redactedKeys[strings.ToLower(k)]; ok {
			v = redacted
		}
		out[k] = v
	}
	return out
}
