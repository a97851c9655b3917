package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/detectionlab/data/internal/config"
	"github.com/detectionlab/data/internal/logging"
	"github.com/detectionlab/data/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	cfgFile      string
	debug        bool
	outputFormat string

	v      = config.New("config", "DATACTL")
	cfg    config.Config
	logger = zap.NewNop()

	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "datactl",
	Short: "D.A.T.A. command-line client",
	Long: `datactl manages detections and the Shannon Score weights of a D.A.T.A.
server.

Settings come from flags, DATACTL_* environment variables (DATACTL_API_URL,
DATACTL_API_TIMEOUT, ...) and ~/.datactl/config.yaml, in that order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		} else if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".datactl"))
		}
		if _, err := config.Read(v); err != nil {
			return err
		}

		var err error
		cfg, err = config.FromViper(v)
		if err != nil {
			return err
		}
		logger = logging.CLI(debug)

		outputFormat, err = resolveFormat(outputFormat, isTerminal())
		return err
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.datactl/config.yaml)")
	pf.String("api", "", "API base URL (default http://localhost:8000/api)")
	pf.Duration("timeout", 0, "per-request timeout (default 60s)")
	pf.BoolVar(&debug, "debug", false, "log requests to stderr")
	pf.StringVarP(&outputFormat, "format", "o", "", "output format: text, json or yaml (default text on a terminal, json otherwise)")

	_ = v.BindPFlag("api.url", pf.Lookup("api"))
	_ = v.BindPFlag("api.timeout", pf.Lookup("timeout"))

	rootCmd.AddCommand(detectionsCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(sampleCSVCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(weightsCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(chartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an API client from the resolved configuration.
func newClient() (*client.Client, error) {
	return client.New(cfg.API.URL,
		client.WithTimeout(cfg.API.Timeout),
		client.WithWeightsKey(cfg.API.WeightsKey),
		client.WithCacheTTL(cfg.API.CacheTTL),
		client.WithLogger(logger),
		client.WithUserAgent("datactl/"+version),
	)
}

// ── output ───────────────────────────────────────────────────────────────────

func isTerminal() bool {
	f, ok := stdout.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// isInteractive reports whether prompts can be answered.
func isInteractive() bool {
	f, ok := stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func resolveFormat(f string, tty bool) (string, error) {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case "":
		if tty {
			return formatText, nil
		}
		return formatJSON, nil
	case formatText:
		return formatText, nil
	case formatJSON:
		return formatJSON, nil
	case formatYAML, "yml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("unknown format %q: want text, json or yaml", f)
	}
}

// render writes v in the selected format. text renders the human form.
func render(v any, text func(w io.Writer) error) error {
	switch outputFormat {
	case formatYAML:
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatText:
		if text != nil {
			return text(stdout)
		}
		fallthrough
	default:
		e := json.NewEncoder(stdout)
		e.SetIndent("", "  ")
		return e.Encode(v)
	}
}

// apiError turns a failed call into the lines an operator should see.
func apiError(action string, err error) error {
	logger.Debug(action+" failed", zap.Error(err))
	msgs := client.Messages(err)
	if len(msgs) == 1 {
		return fmt.Errorf("%s: %s", action, msgs[0])
	}
	return fmt.Errorf("%s:\n  %s", action, strings.Join(msgs, "\n  "))
}

// uploadError is apiError with the upload wording.
func uploadError(err error) error {
	logger.Debug("upload failed", zap.Error(err))
	return errors.New(strings.Join(client.UploadMessages(err), "\n"))
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the datactl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(stdout, "datactl %s\n", version)
	},
}
