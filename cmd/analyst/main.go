package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "analyst",
	Short: "Upload documents and ask questions about them",
	Long: `analyst talks to the document analysis backend on behalf of a signed-in user.

Sign in interactively with 'analyst login'. One-shot commands sign in with
--email (or ANALYST_EMAIL) and ANALYST_PASSWORD when both are set.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")
	rootCmd.PersistentFlags().String("email", "", "account email (default $ANALYST_EMAIL)")

	rootCmd.AddCommand(loginCmd, signupCmd, whoamiCmd, shellCmd)
	rootCmd.AddCommand(docsCmd, chatCmd)
	rootCmd.AddCommand(mcpCmd, stubServerCmd)
	rootCmd.AddCommand(configCmd, statusCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%v", err)
		stop()
		os.Exit(1)
	}
}
