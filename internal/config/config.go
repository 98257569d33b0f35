// Package config resolves console configuration: defaults, then an optional
// YAML file, then CONSOLE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"qazna.org/console/internal/credstore"
	"qazna.org/console/internal/guard"
	"qazna.org/console/internal/identity"
	"qazna.org/console/internal/nav"
)

var ErrInvalid = errors.New("config: invalid")

// CredentialOptions returns the credential store settings.
func (c Config) CredentialOptions() credstore.Options {
	return credstore.Options{
		Backend:     c.CredentialBackend,
		Profile:     c.Profile,
		Path:        c.CredentialPath,
		PostgresDSN: c.PostgresDSN,
		RedisURL:    c.RedisURL,
	}
}

// Config is the resolved runtime configuration.
type Config struct {
	APIBaseURL string
	GRPCTarget string
	Profile    string

	CredentialBackend string
	CredentialPath    string
	PostgresDSN       string
	RedisURL          string

	LoginPath      string
	FallbackPath   string
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int

	Roles  identity.RoleMap
	Routes guard.Table

	Dev DevServer
}

// DevServer configures the development dashboard server.
type DevServer struct {
	Addr      string
	GRPCAddr  string
	Secret    string
	Issuer    string
	TokenTTL  time.Duration
	RateLimit float64
	RateBurst int
	Users     []SeedUser
}

// SeedUser is a development account.
type SeedUser struct {
	Email         string                `yaml:"email"`
	Username      string                `yaml:"username"`
	Password      string                `yaml:"password"`
	Roles         []string              `yaml:"roles"`
	OrgID         string                `yaml:"org_id"`
	Organizations []identity.Membership `yaml:"organizations"`
}

// configFile mirrors the YAML schema.
type configFile struct {
	API struct {
		BaseURL        string  `yaml:"base_url"`
		GRPCTarget     string  `yaml:"grpc_target"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RateLimit      float64 `yaml:"rate_limit"`
		RateBurst      int     `yaml:"rate_burst"`
	} `yaml:"api"`
	Profile    string `yaml:"profile"`
	Credential struct {
		Backend     string `yaml:"backend"`
		Path        string `yaml:"path"`
		PostgresDSN string `yaml:"postgres_dsn"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"credential"`
	Navigation struct {
		LoginPath    string `yaml:"login_path"`
		FallbackPath string `yaml:"fallback_path"`
	} `yaml:"navigation"`
	Roles  map[string][]string          `yaml:"roles"`
	Routes map[string]guard.Requirement `yaml:"routes"`
	Dev    struct {
		Addr            string     `yaml:"addr"`
		GRPCAddr        string     `yaml:"grpc_addr"`
		Secret          string     `yaml:"secret"`
		Issuer          string     `yaml:"issuer"`
		TokenTTLMinutes int        `yaml:"token_ttl_minutes"`
		RateLimit       float64    `yaml:"rate_limit"`
		RateBurst       int        `yaml:"rate_burst"`
		Users           []SeedUser `yaml:"users"`
	} `yaml:"devserver"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		APIBaseURL:        "http://127.0.0.1:8080",
		GRPCTarget:        "127.0.0.1:9090",
		Profile:           credstore.DefaultProfile,
		CredentialBackend: credstore.BackendFile,
		LoginPath:         nav.LoginPath,
		FallbackPath:      nav.DefaultFallback,
		RequestTimeout:    30 * time.Second,
		Roles:             identity.DefaultRoleMap,
		Routes:            guard.DefaultTable,
		Dev: DevServer{
			Addr:      ":8080",
			GRPCAddr:  ":9090",
			Secret:    "dev-only-secret-change-me",
			Issuer:    "qazna-console-dev",
			TokenTTL:  time.Hour,
			RateLimit: 20,
			RateBurst: 40,
			Users:     DefaultSeedUsers(),
		},
	}
}

// DefaultSeedUsers are the development accounts available out of the box.
func DefaultSeedUsers() []SeedUser {
	return []SeedUser{
		{
			Email: "admin@qazna.local", Username: "admin", Password: "admin-password",
			Roles: []string{identity.RoleAdmin}, OrgID: "org-qazna",
			Organizations: []identity.Membership{
				{ID: "org-qazna", Name: "Qazna", Role: identity.RoleOrgAdmin},
				{ID: "org-sandbox", Name: "Sandbox", Role: identity.RoleMember},
			},
		},
		{
			Email: "viewer@qazna.local", Username: "viewer", Password: "viewer-password",
			Roles: []string{identity.RoleViewer}, OrgID: "org-qazna",
			Organizations: []identity.Membership{
				{ID: "org-qazna", Name: "Qazna", Role: identity.RoleViewer},
			},
		},
	}
}

// DefaultPath is CONSOLE_CONFIG, or config.yaml under the user config directory.
func DefaultPath() string {
	if p := os.Getenv("CONSOLE_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "console.yaml"
	}
	return filepath.Join(dir, "qazna-console", "config.yaml")
}

// Load resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	applyEnv(&cfg)
	cfg.Roles = cfg.Roles.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.API.BaseURL != "" {
		cfg.APIBaseURL = f.API.BaseURL
	}
	if f.API.GRPCTarget != "" {
		cfg.GRPCTarget = f.API.GRPCTarget
	}
	if f.API.TimeoutSeconds > 0 {
		cfg.RequestTimeout = time.Duration(f.API.TimeoutSeconds) * time.Second
	}
	if f.API.RateLimit > 0 {
		cfg.RateLimit = f.API.RateLimit
	}
	if f.API.RateBurst > 0 {
		cfg.RateBurst = f.API.RateBurst
	}
	if f.Profile != "" {
		cfg.Profile = f.Profile
	}
	if f.Credential.Backend != "" {
		cfg.CredentialBackend = f.Credential.Backend
	}
	if f.Credential.Path != "" {
		cfg.CredentialPath = f.Credential.Path
	}
	if f.Credential.PostgresDSN != "" {
		cfg.PostgresDSN = f.Credential.PostgresDSN
	}
	if f.Credential.RedisURL != "" {
		cfg.RedisURL = f.Credential.RedisURL
	}
	if f.Navigation.LoginPath != "" {
		cfg.LoginPath = f.Navigation.LoginPath
	}
	if f.Navigation.FallbackPath != "" {
		cfg.FallbackPath = f.Navigation.FallbackPath
	}
	if len(f.Roles) > 0 {
		cfg.Roles = identity.RoleMap(f.Roles)
	}
	if len(f.Routes) > 0 {
		cfg.Routes = guard.Table(f.Routes)
	}
	if f.Dev.Addr != "" {
		cfg.Dev.Addr = f.Dev.Addr
	}
	if f.Dev.GRPCAddr != "" {
		cfg.Dev.GRPCAddr = f.Dev.GRPCAddr
	}
	if f.Dev.Secret != "" {
		cfg.Dev.Secret = f.Dev.Secret
	}
	if f.Dev.Issuer != "" {
		cfg.Dev.Issuer = f.Dev.Issuer
	}
	if f.Dev.TokenTTLMinutes > 0 {
		cfg.Dev.TokenTTL = time.Duration(f.Dev.TokenTTLMinutes) * time.Minute
	}
	if f.Dev.RateLimit > 0 {
		cfg.Dev.RateLimit = f.Dev.RateLimit
	}
	if f.Dev.RateBurst > 0 {
		cfg.Dev.RateBurst = f.Dev.RateBurst
	}
	if len(f.Dev.Users) > 0 {
		cfg.Dev.Users = f.Dev.Users
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.APIBaseURL = envOrDefault("CONSOLE_API_URL", cfg.APIBaseURL)
	cfg.GRPCTarget = envOrDefault("CONSOLE_GRPC_TARGET", cfg.GRPCTarget)
	cfg.Profile = envOrDefault("CONSOLE_PROFILE", cfg.Profile)
	cfg.CredentialBackend = strings.ToLower(strings.TrimSpace(envOrDefault("CONSOLE_CREDENTIAL_BACKEND", cfg.CredentialBackend)))
	cfg.CredentialPath = envOrDefault("CONSOLE_CREDENTIAL_PATH", cfg.CredentialPath)
	cfg.PostgresDSN = envOrDefault("CONSOLE_PG_DSN", cfg.PostgresDSN)
	cfg.RedisURL = envOrDefault("CONSOLE_REDIS_URL", cfg.RedisURL)
	cfg.LoginPath = envOrDefault("CONSOLE_LOGIN_PATH", cfg.LoginPath)
	cfg.FallbackPath = envOrDefault("CONSOLE_FALLBACK_PATH", cfg.FallbackPath)
	cfg.RequestTimeout = time.Duration(envInt("CONSOLE_REQUEST_TIMEOUT_SECONDS", int(cfg.RequestTimeout.Seconds()))) * time.Second
	cfg.RateLimit = envFloat("CONSOLE_RATE_LIMIT", cfg.RateLimit)
	cfg.RateBurst = envInt("CONSOLE_RATE_BURST", cfg.RateBurst)

	cfg.Dev.Addr = envOrDefault("CONSOLE_DEV_ADDR", cfg.Dev.Addr)
	cfg.Dev.GRPCAddr = envOrDefault("CONSOLE_DEV_GRPC_ADDR", cfg.Dev.GRPCAddr)
	cfg.Dev.Secret = envOrDefault("CONSOLE_DEV_SECRET", cfg.Dev.Secret)
	cfg.Dev.Issuer = envOrDefault("CONSOLE_DEV_ISSUER", cfg.Dev.Issuer)
	cfg.Dev.TokenTTL = time.Duration(envInt("CONSOLE_DEV_TOKEN_TTL_MINUTES", int(cfg.Dev.TokenTTL.Minutes()))) * time.Minute
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: api base url %q", ErrInvalid, c.APIBaseURL)
	}
	if strings.TrimSpace(c.Profile) == "" {
		return fmt.Errorf("%w: empty profile", ErrInvalid)
	}
	switch c.CredentialBackend {
	case credstore.BackendFile, credstore.BackendMemory:
	case credstore.BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres backend without CONSOLE_PG_DSN", ErrInvalid)
		}
	case credstore.BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis backend without CONSOLE_REDIS_URL", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: credential backend %q", ErrInvalid, c.CredentialBackend)
	}
	if !strings.HasPrefix(c.LoginPath, "/") || !strings.HasPrefix(c.FallbackPath, "/") {
		return fmt.Errorf("%w: navigation paths must be absolute", ErrInvalid)
	}
	if nav.Clean(c.LoginPath) == nav.Clean(c.FallbackPath) {
		return fmt.Errorf("%w: fallback path equals login path", ErrInvalid)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive", ErrInvalid)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("%w: negative rate limit", ErrInvalid)
	}
	if err := c.Roles.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Routes.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ValidateDev checks the settings the development server needs.
func (c Config) ValidateDev() error {
	if len(c.Dev.Secret) < 16 {
		return fmt.Errorf("%w: dev server secret must be at least 16 bytes", ErrInvalid)
	}
	if c.Dev.TokenTTL <= 0 {
		return fmt.Errorf("%w: dev server token ttl must be positive", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(c.Dev.Users))
	for _, u := range c.Dev.Users {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email == "" || u.Password == "" {
			return fmt.Errorf("%w: seed user needs email and password", ErrInvalid)
		}
		if _, dup := seen[email]; dup {
			return fmt.Errorf("%w: duplicate seed user %s", ErrInvalid, email)
		}
		seen[email] = struct{}{}
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
