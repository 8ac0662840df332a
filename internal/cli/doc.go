// Package cli implements the genflowctl command line tool.
//
// # Overview
//
// The CLI talks to the orchestrator over its HTTP API and never touches
// the orchestrator state directly.
//
// # Components
//
// ## Client
//
// HTTP client for the /api/v1 surface. It decodes the JSON bodies and
// turns ErrorResponse bodies into errors. With OAuth2 client credentials
// configured, every request carries a bearer token.
//
//	client := cli.NewClient("http://localhost:8080", nil)
//	view, err := client.Status(ctx, id)
//
// ## Output
//
// Tables (text/tabwriter) by default, indented JSON with --json. Data goes
// to stdout and messages to stderr, so `genflowctl list --json | jq .` works.
//
// ## Commands
//
// start, status, cancel, retry, metrics, list, events and pipelines. Each
// command is built by a factory taking clientFn and outputFn closures, so
// the client is created after the persistent flags are parsed.
package cli
