package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"qazna.org/console/internal/api"
	"qazna.org/console/internal/config"
	"qazna.org/console/internal/credstore"
	"qazna.org/console/internal/guard"
	"qazna.org/console/internal/nav"
	"qazna.org/console/internal/session"
	"qazna.org/console/internal/transport"
)

const (
	annotationNoSession = "console/no-session"
	annotationRoute     = "console/route"
)

type globalOptions struct {
	configPath string
	profile    string
	apiURL     string
}

// app wires the session layer for one command invocation.
type app struct {
	cfg       config.Config
	store     credstore.Store
	closeFn   func() error
	router    *nav.Router
	factory   *transport.Factory
	dashboard *api.Dashboard
	manager   *session.Manager
	guard     *guard.Guard
}

type appKey struct{}

func newApp(ctx context.Context, opts globalOptions, out io.Writer) (*app, error) {
	path := opts.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.profile != "" {
		cfg.Profile = opts.profile
	}
	if opts.apiURL != "" {
		cfg.APIBaseURL = opts.apiURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, closeFn, err := credstore.Open(ctx, cfg.CredentialOptions())
	if err != nil {
		return nil, err
	}

	router := nav.NewRouter(nav.DefaultFallback)
	factory := transport.NewFactory(store, router,
		transport.WithTimeout(cfg.RequestTimeout),
		transport.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		transport.WithLoginPath(cfg.LoginPath),
	)
	client, err := factory.New("dashboard", cfg.APIBaseURL)
	if err != nil {
		_ = closeFn()
		return nil, err
	}
	dashboard := api.New(client)
	manager := session.NewManager(store, dashboard,
		session.WithRoleMap(cfg.Roles),
		session.WithNotifier(session.NotifierFuncs{
			OnSuccess: func(msg string) { fmt.Fprintf(out, "\033[32m✓\033[0m %s\n", msg) },
			OnError:   func(msg string) { fmt.Fprintf(out, "\033[31m✗\033[0m %s\n", msg) },
		}),
	)
	factory.OnInvalidate(manager.Invalidated)
	factory.OnInvalidate(func() {
		fmt.Fprintln(out, "Session expired. Run `console login` to sign in again.")
	})

	return &app{
		cfg:       cfg,
		store:     store,
		closeFn:   closeFn,
		router:    router,
		factory:   factory,
		dashboard: dashboard,
		manager:   manager,
		guard: guard.New(manager, router, cfg.Routes,
			guard.WithLoginPath(cfg.LoginPath),
			guard.WithFallback(cfg.FallbackPath),
		),
	}, nil
}

func (a *app) Close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

// authorize runs the route guard for commands annotated with a route.
func (a *app) authorize(cmd *cobra.Command) error {
	route := cmd.Annotations[annotationRoute]
	if route == "" {
		return nil
	}
	return describeDenial(route, a.guard.Navigate(route))
}

func describeDenial(route string, out guard.Outcome) error {
	switch out.Decision {
	case guard.DenyUnauthenticated:
		return errors.New("not signed in; run `console login` first")
	case guard.DenyForbidden:
		return fmt.Errorf("access to %s denied; redirected to %s", route, out.Destination)
	case guard.Loading:
		return errors.New("session is still loading")
	default:
		return nil
	}
}

// login establishes a session from email and password, or from token when it
// is set. The exchange runs from the login boundary, so a rejected password
// leaves any stored session alone; on that failure the router goes back to
// where it was.
func (a *app) login(ctx context.Context, email, password, token string) error {
	from := a.router.Location()
	a.router.Navigate(a.cfg.LoginPath)
	if token == "" {
		var err error
		token, err = a.dashboard.Login(ctx, email, password)
		if err != nil {
			a.router.Navigate(from)
			return fmt.Errorf("sign in: %w", err)
		}
	}
	if err := a.manager.Login(ctx, token); err != nil {
		return err
	}
	a.router.Navigate(a.cfg.FallbackPath)
	return nil
}

func setApp(cmd *cobra.Command, a *app) {
	cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
}

func appFrom(cmd *cobra.Command) *app {
	if cmd.Context() == nil {
		return nil
	}
	a, _ := cmd.Context().Value(appKey{}).(*app)
	return a
}

func mustApp(cmd *cobra.Command) (*app, error) {
	a := appFrom(cmd)
	if a == nil {
		return nil, errors.New("session layer not initialised")
	}
	return a, nil
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
