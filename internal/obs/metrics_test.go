package obs

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/metrics":                 "/metrics",
		"/auth/me":                 "/auth/me",
		"/auth/me?expand=orgs":     "/auth/me",
		"/auth/totp/verify":        "/auth/totp/verify",
		"/organizations/basic":     "/organizations/basic",
		"/organizations/abc/extra": "/other",
		"/v1/accounts/abc/balance": "/other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestClientRequestStartedRecordsCode(t *testing.T) {
	before := testutil.ToFloat64(clientRequestsTotal.WithLabelValues("metrics-test", "GET", "401"))
	done := ClientRequestStarted("metrics-test", "GET")
	if got := testutil.ToFloat64(clientInFlight.WithLabelValues("metrics-test")); got != 1 {
		t.Fatalf("expected 1 in flight, got %v", got)
	}
	done(401)
	if got := testutil.ToFloat64(clientInFlight.WithLabelValues("metrics-test")); got != 0 {
		t.Fatalf("expected 0 in flight, got %v", got)
	}
	after := testutil.ToFloat64(clientRequestsTotal.WithLabelValues("metrics-test", "GET", "401"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}

	errBefore := testutil.ToFloat64(clientRequestsTotal.WithLabelValues("metrics-test", "GET", "error"))
	ClientRequestStarted("metrics-test", "GET")(0)
	if got := testutil.ToFloat64(clientRequestsTotal.WithLabelValues("metrics-test", "GET", "error")); got-errBefore != 1 {
		t.Fatalf("expected transport failure to be labelled error")
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
}

func TestLogWritesJSONLine(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	Log(LevelWarn, "credential_store_unavailable", map[string]any{"backend": "file", "msg": "overridden"})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["level"] != LevelWarn || entry["msg"] != "credential_store_unavailable" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["backend"] != "file" {
		t.Fatalf("expected field backend, got %v", entry["backend"])
	}
}
