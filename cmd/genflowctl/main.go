// genflowctl is the command line client of the genflow orchestrator.
//
// Usage:
//
//	genflowctl [--api-url URL] [--json] <command> [flags]
//
// Commands:
//
//	start      Start a process (one per --prd file)
//	status     Show process status
//	cancel     Cancel a running process
//	retry      Retry a failed step
//	list       List processes
//	events     Show or follow process events
//	metrics    Show orchestrator metrics
//	pipelines  List available pipelines
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aescanero/genflow/internal/cli"
)

// version is set through ldflags at build time
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool
	var auth cli.AuthConfig

	rootCmd := &cobra.Command{
		Use:           "genflowctl",
		Short:         "genflowctl controls generation pipeline processes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&apiURL, "api-url", envOr("GENFLOW_API_URL", "http://localhost:8080"), "API server URL")
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flags.StringVar(&auth.TokenURL, "token-url", os.Getenv("GENFLOW_TOKEN_URL"), "OAuth2 token endpoint (enables client credentials auth)")
	flags.StringVar(&auth.ClientID, "client-id", os.Getenv("GENFLOW_CLIENT_ID"), "OAuth2 client ID")
	flags.StringVar(&auth.ClientSecret, "client-secret", os.Getenv("GENFLOW_CLIENT_SECRET"), "OAuth2 client secret")
	flags.StringSliceVar(&auth.Scopes, "scope", nil, "OAuth2 scope (repeatable)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientFn := func() *cli.Client { return cli.NewClient(apiURL, cli.HTTPClient(ctx, auth)) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(cli.NewCommands(clientFn, outputFn)...)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
