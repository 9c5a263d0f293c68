// Package cli implements the gateway's command-line interface using
// Cobra: a root command in this file, one file per subcommand, each
// subcommand building whatever runtime it needs and delegating
// immediately.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loxone-gateway",
	Short: "Loxone MCP gateway — bridges a Miniserver to MCP clients",
	Long: `loxone-gateway runs a Model Context Protocol server backed by a
Loxone Miniserver: it authenticates, resolves device and sensor state,
and exposes resources, tools, and prompts over stdio, HTTP SSE, or
WebSocket, with consent gating on every mutating call.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from cmd/loxone-gateway/main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
