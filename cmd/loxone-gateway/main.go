// Package main is the single-binary entrypoint for the Loxone MCP
// gateway. Business logic never lives here — main wires the version
// string and hands off to internal/cli immediately.
package main

import "github.com/tutu-network/loxone-mcp-gateway/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
