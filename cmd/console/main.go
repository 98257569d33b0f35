package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := execute(ctx, os.Args[1:]); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// execute runs one command and releases the session layer it opened, also
// when the command fails.
func execute(ctx context.Context, args []string) error {
	rootCmd, closeSession := newRootCmd()
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if closeErr := closeSession(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func newRootCmd() (*cobra.Command, func() error) {
	var (
		opts    globalOptions
		session *app
	)
	rootCmd := &cobra.Command{
		Use:   "console",
		Short: "Qazna dashboard session console",
		Long: `console signs in to the Qazna dashboard API, keeps the session
credential in the configured store and checks route access the
same way the dashboard does.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[annotationNoSession] != "" {
				return nil
			}
			a, err := newApp(cmd.Context(), opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			session = a
			setApp(cmd, a)
			a.manager.Hydrate(cmd.Context())
			return a.authorize(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $CONSOLE_CONFIG or user config dir)")
	rootCmd.PersistentFlags().StringVar(&opts.profile, "profile", "", "credential profile")
	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "dashboard API base URL")

	rootCmd.AddCommand(
		loginCmd(),
		logoutCmd(),
		whoamiCmd(),
		orgsCmd(),
		openCmd(),
		totpCmd(),
		healthCmd(),
		versionCmd(),
	)

	closeSession := func() error {
		if session == nil {
			return nil
		}
		a := session
		session = nil
		return a.Close()
	}
	return rootCmd, closeSession
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
