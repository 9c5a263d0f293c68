package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tutu-network/loxone-mcp-gateway/internal/config"
	"github.com/tutu-network/loxone-mcp-gateway/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a TOML config file (default: $LOXONE_GATEWAY_HOME/config.toml)")
	serveCmd.Flags().StringVar(&serveURL, "miniserver-url", "", "Miniserver base URL (overrides config)")
	serveCmd.Flags().StringVar(&serveUsername, "username", "", "Miniserver username (overrides config)")
	serveCmd.Flags().StringVar(&servePassword, "password", "", "Miniserver password (overrides config)")
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "MCP transport: stdio|http_sse|websocket (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveConfigPath string
	serveURL        string
	serveUsername   string
	servePassword   string
	serveTransport  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Loxone MCP gateway",
	Long:  `Start the gateway, load the Miniserver structure, and serve MCP over the configured transport until interrupted.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	env := environMap()
	home := config.GatewayHome(env)

	path := serveConfigPath
	if path == "" {
		path = home + "/config.toml"
	}

	builder, err := config.NewBuilder().FromFile(path)
	if err != nil {
		return err
	}
	builder = builder.FromEnviron(env)

	// Build once against whatever the file/environment already supplied so
	// flag overrides can merge with, rather than blank out, the existing
	// miniserver fields; a missing miniserver section is tolerated here
	// since flags may supply it instead.
	loaded, _ := builder.Build()
	url, user, pass := loaded.Miniserver.URL, loaded.Miniserver.Username, loaded.Miniserver.Password
	if serveURL != "" {
		url = serveURL
	}
	if serveUsername != "" {
		user = serveUsername
	}
	if servePassword != "" {
		pass = servePassword
	}

	cfg, err := builder.WithMiniserver(url, user, pass).Build()
	if err != nil {
		return fmt.Errorf("no miniserver configured: pass --miniserver-url/--username/--password or set them in %s: %w", path, err)
	}
	if serveTransport != "" {
		cfg.Server.Transport = serveTransport
	}

	gw, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("construct gateway: %w", err)
	}
	defer gw.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return gw.Run(ctx)
}

// environMap snapshots os.Environ() into the map shape
// config.Builder.FromEnviron expects, so the cli package is the one
// place that reads the live process environment.
func environMap() map[string]string {
	out := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}
