package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"qazna.org/console/internal/credstore"
	"qazna.org/console/internal/identity"
	"qazna.org/console/internal/transport"
)

func newDashboard(t *testing.T, mux *http.ServeMux) (*Dashboard, credstore.Store) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	store := credstore.NewMemory()
	client, err := transport.NewFactory(store, nil).New("dashboard", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return New(client), store
}

func TestMeAndIdentity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id":      "u-1",
			"username":     "amina",
			"email":        "amina@example.com",
			"roles":        []string{"Viewer"},
			"org_id":       "org-1",
			"totp_enabled": false,
			"permissions":  []string{"keys.read"},
		})
	})
	d, store := newDashboard(t, mux)
	_ = store.Set(context.Background(), "tok")

	me, err := d.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	id := me.Identity(identity.DefaultRoleMap)
	if id.ID != "u-1" || id.OrganizationID == nil || *id.OrganizationID != "org-1" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if !id.HasRole("viewer") || !id.HasPermission(identity.PermDashboardView) || !id.HasPermission("keys.read") {
		t.Fatalf("expected derived and granted permissions, got %v", id.Permissions)
	}
}

func TestMeRejectsMissingUserID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"username":"x"}`))
	})
	d, _ := newDashboard(t, mux)
	if _, err := d.Me(context.Background()); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestOrganizationsKeepServerOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /organizations/basic", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"b","name":"Beta","role":"member"},{"id":"a","name":"Alpha","role":"org_admin"}]`))
	})
	d, _ := newDashboard(t, mux)
	orgs, err := d.Organizations(context.Background())
	if err != nil {
		t.Fatalf("Organizations: %v", err)
	}
	if len(orgs) != 2 || orgs[0].ID != "b" || orgs[1].Role != "org_admin" {
		t.Fatalf("unexpected organizations %+v", orgs)
	}
}

func TestLoginAndTOTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body loginRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Incorrect email or password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"issued","token_type":"bearer"}`))
	})
	mux.HandleFunc("POST /auth/totp/setup", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"secret":"JBSWY3DPEHPK3PXP","qr_code":"otpauth://totp/qazna:amina?secret=JBSWY3DPEHPK3PXP"}`))
	})
	mux.HandleFunc("POST /auth/totp/verify", func(w http.ResponseWriter, r *http.Request) {
		var body verifyRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Code != "123456" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"Invalid TOTP code"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	d, _ := newDashboard(t, mux)
	ctx := context.Background()

	token, err := d.Login(ctx, "amina@example.com", "secret")
	if err != nil || token != "issued" {
		t.Fatalf("Login = %q, %v", token, err)
	}
	_, err = d.Login(ctx, "amina@example.com", "wrong")
	if msg, ok := DetailMessage(err); !ok || msg != "Incorrect email or password" {
		t.Fatalf("expected login detail, got %q %v", msg, err)
	}

	setup, err := d.SetupTOTP(ctx)
	if err != nil || setup.Secret != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("SetupTOTP = %+v, %v", setup, err)
	}
	if err := d.VerifyTOTP(ctx, "123456"); err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}
	err = d.VerifyTOTP(ctx, "000000")
	if transport.StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestParseDetail(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{"string", `{"detail":"Invalid TOTP code"}`, "Invalid TOTP code", true},
		{"list", `{"detail":[{"msg":"field required"},{"msg":"too short"}]}`, "field required; too short", true},
		{"list without msg", `{"detail":[{"loc":["body"]}]}`, "", false},
		{"empty string", `{"detail":"  "}`, "", false},
		{"no detail", `{"error":"x"}`, "", false},
		{"not json", `oops`, "", false},
		{"object detail", `{"detail":{"msg":"x"}}`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseDetail([]byte(tc.body))
			if got != tc.want || ok != tc.ok {
				t.Fatalf("ParseDetail(%s) = %q, %v", tc.body, got, ok)
			}
		})
	}
	if _, ok := DetailMessage(errors.New("plain")); ok {
		t.Fatalf("plain errors carry no detail")
	}
}
