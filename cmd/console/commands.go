package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"qazna.org/console/internal/enroll"
	"qazna.org/console/internal/guard"
	"qazna.org/console/internal/identity"
)

func loginCmd() *cobra.Command {
	var email, password, token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session credential",
		Example: `  console login --email admin@qazna.local
  CONSOLE_PASSWORD=secret console login --email admin@qazna.local
  console login --token eyJhbGciOi...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}
			if token == "" {
				if email == "" {
					return errors.New("either --email or --token is required")
				}
				if password == "" {
					password, err = readPassword(cmd)
					if err != nil {
						return err
					}
				}
			}
			if err := a.login(cmd.Context(), email, password, token); err != nil {
				return err
			}
			info("Profile: %s (%s)", a.cfg.Profile, a.cfg.CredentialBackend)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (default $CONSOLE_PASSWORD or stdin)")
	cmd.Flags().StringVar(&token, "token", "", "use an existing access token instead of signing in")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	if v := os.Getenv("CONSOLE_PASSWORD"); v != "" {
		return v, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and clear the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}
			if !a.manager.State().Authenticated() {
				warn("Not signed in")
				a.manager.Logout()
				return nil
			}
			if err := a.dashboard.Logout(cmd.Context()); err != nil {
				warn("Server did not confirm logout: %v", err)
			}
			a.manager.Logout()
			success("Signed out")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "whoami",
		Short:       "Show the signed-in identity",
		Annotations: map[string]string{annotationRoute: "/account"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}
			id, ok := a.manager.Identity()
			if !ok {
				return errors.New("not signed in")
			}
			org := "-"
			if id.OrganizationID != nil {
				org = *id.OrganizationID
			}
			fmt.Printf("User:         %s (%s)\n", id.Username, id.ID)
			fmt.Printf("Email:        %s\n", id.Email)
			fmt.Printf("Roles:        %s\n", joinOrDash(id.Roles))
			fmt.Printf("Organization: %s\n", org)
			fmt.Printf("TOTP:         %t\n", id.TOTPEnabled)
			fmt.Printf("Permissions:  %s\n", joinOrDash(identity.Permissions(id.Permissions)))
			return nil
		},
	}
}

func orgsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "orgs",
		Short:       "List the organizations available to the session",
		Annotations: map[string]string{annotationRoute: "/account"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}
			orgs := a.manager.Organizations()
			if len(orgs) == 0 {
				info("No organizations")
				return nil
			}
			for _, o := range orgs {
				fmt.Printf("%-20s %-30s %s\n", o.ID, o.Name, o.Role)
			}
			return nil
		},
	}
}

func openCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "open [route]",
		Short: "Check access to a dashboard route",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}
			if list || len(args) == 0 {
				for _, r := range a.cfg.Routes.Routes() {
					req := a.cfg.Routes[r]
					perm := req.Permission
					if perm == "" {
						perm = "(signed in)"
					}
					mark := " "
					if a.guard.Check(r).Decision == guard.Allow {
						mark = "✓"
					}
					fmt.Printf("%s %-14s %s\n", mark, r, perm)
				}
				return nil
			}
			route := args[0]
			out := a.guard.Navigate(route)
			if err := describeDenial(route, out); err != nil {
				return err
			}
			success("Opened %s", a.router.Location())
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list routes and whether they are accessible")
	return cmd
}

func totpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Manage two-factor authentication",
	}
	cmd.AddCommand(totpEnrollCmd())
	return cmd
}

func totpEnrollCmd() *cobra.Command {
	var attempts int
	cmd := &cobra.Command{
		Use:         "enroll",
		Short:       "Enroll an authenticator app",
		Annotations: map[string]string{annotationRoute: "/account/security"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}
			if id, ok := a.manager.Identity(); ok && id.TOTPEnabled {
				info("Two-factor authentication is already enabled")
				return nil
			}
			flow := enroll.NewFlow(a.dashboard, a.manager)
			defer flow.Abandon()

			ctx := cmd.Context()
			st, err := flow.Start(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Secret:  %s\n", st.Secret)
			fmt.Printf("URI:     %s\n", st.QRCode)
			fmt.Println("Add the secret to your authenticator app and enter the code it shows.")

			in := bufio.NewScanner(cmd.InOrStdin())
			for i := 0; i < attempts; i++ {
				fmt.Print("Code: ")
				if !in.Scan() {
					return errors.New("enrollment abandoned")
				}
				code, _ := flow.Input(in.Text())
				if !enroll.ValidCode(code) {
					warn("Enter the %d-digit code", enroll.CodeLength)
					continue
				}
				err := flow.Submit(ctx)
				if err == nil {
					success("Two-factor authentication enabled")
					return nil
				}
				if errors.Is(err, enroll.ErrVerificationFailed) {
					warn("%s", flow.State().Failure)
					continue
				}
				return err
			}
			return fmt.Errorf("enrollment failed after %d attempts", attempts)
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 3, "number of codes to try")
	return cmd
}

func healthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the API health service over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}
			opts := append([]grpc.DialOption{
				grpc.WithTransportCredentials(insecure.NewCredentials()),
			}, a.factory.DialOptions("health")...)
			conn, err := grpc.NewClient(a.cfg.GRPCTarget, opts...)
			if err != nil {
				return fmt.Errorf("dial %s: %w", a.cfg.GRPCTarget, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			success("%s: %s", a.cfg.GRPCTarget, resp.GetStatus())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "health check timeout")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{annotationNoSession: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("console %s (%s)\n", version, commit)
		},
	}
}
