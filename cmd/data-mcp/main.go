// data-mcp exposes D.A.T.A. detections and Shannon Score weights as MCP
// tools, so an MCP-compatible assistant can list, create, score and classify
// detections.
//
// Register it with an MCP host:
//
//	{
//	  "mcpServers": {
//	    "data": {
//	      "command": "/path/to/data-mcp",
//	      "args": ["--api", "http://localhost:8000/api"]
//	    }
//	  }
//	}
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/detectionlab/data/internal/config"
	"github.com/detectionlab/data/internal/logging"
	"github.com/detectionlab/data/internal/mcpbridge"
	"github.com/detectionlab/data/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	v            = config.New("config", "DATACTL")
	cfgFile      string
	showManifest bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "data-mcp",
	Short: "MCP bridge for D.A.T.A.",
	Long: `data-mcp is a stdio MCP server exposing these tools:

  list_detections   get_detection     create_detection
  calculate_score   classify_mitre    radar_chart
  get_weights       validate_weights  set_weights
  compute_score

It reads the same settings as datactl (~/.datactl/config.yaml and DATACTL_*
variables). All logging goes to stderr so it does not interfere with the
protocol.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (default ~/.datactl/config.yaml)")
	f.String("api", "", "API base URL")
	f.Duration("cache-ttl", 0, "Weight set cache TTL (0 = disabled)")
	f.String("log-level", "", "Log level (default info)")
	f.BoolVar(&showManifest, "manifest", false, "Print the tool manifest as JSON and exit")

	_ = v.BindPFlag("api.url", f.Lookup("api"))
	_ = v.BindPFlag("api.cache_ttl", f.Lookup("cache-ttl"))
	_ = v.BindPFlag("log.level", f.Lookup("log-level"))
}

func run(cmd *cobra.Command, _ []string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.datactl")
	}
	if _, err := config.Read(v); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, true)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	c, err := client.New(cfg.API.URL,
		client.WithTimeout(cfg.API.Timeout),
		client.WithWeightsKey(cfg.API.WeightsKey),
		client.WithCacheTTL(cfg.API.CacheTTL),
		client.WithLogger(logger.Named("client")),
		client.WithUserAgent("data-mcp/"+version),
	)
	if err != nil {
		return fmt.Errorf("create API client: %w", err)
	}

	tools := mcpbridge.NewToolRegistry(c, c.Weights())
	if showManifest {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tools.Manifest(version))
	}

	server := mcpbridge.NewServer(os.Stdout, tools, version, logger)

	logger.Info("MCP bridge ready",
		zap.String("api", c.BaseURL()),
		zap.Int("tools", len(tools.Definitions())),
	)
	return server.Serve(cmd.Context(), os.Stdin)
}
