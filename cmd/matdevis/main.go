// ABOUTME: Entry point for the matdevis gateway
// ABOUTME: Cobra commands to serve the MCP endpoint, probe health, and price quotes offline

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/matdevis-gateway/internal/config"
	"github.com/2389/matdevis-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _      _            _
 _ __ ___   __ _| |_ __| | _____   _(_)___
| '_ ' _ \ / _' | __/ _' |/ _ \ \ / / / __|
| | | | | | (_| | || (_| |  __/\ V /| \__ \
|_| |_| |_|\__,_|\__\__,_|\___| \_/ |_|___/
`

// options are the flags shared by every command.
type options struct {
	configPath string
	envFile    string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "matdevis",
		Short:         "MatDevis motor insurance quote gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (env MATDEVIS_CONFIG)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newServeCmd(opts),
		newHealthCmd(opts),
		newVersionCmd(),
		newQuoteCmd(),
	)
	return root
}

// loadEnvFile exports variables from path without overriding the environment.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// getConfigPath returns the path to the gateway config file and whether it was
// asked for explicitly.
// Priority: --config flag > MATDEVIS_CONFIG env var > XDG_CONFIG_HOME/matdevis/gateway.yaml > ~/.config/matdevis/gateway.yaml
func getConfigPath(flag string) (string, bool) {
	if flag != "" {
		return flag, true
	}
	if envPath := os.Getenv("MATDEVIS_CONFIG"); envPath != "" {
		return envPath, true
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml", false // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "matdevis", "gateway.yaml"), false
}

// loadConfig loads the resolved config file. Only the implicit default path
// may be absent, in which case the built-in defaults apply.
func loadConfig(flag string) (*config.Config, string, error) {
	path, explicit := getConfigPath(flag)
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), "(defaults)", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
}

func runServe(ctx context.Context, out io.Writer, opts *options) error {
	cyan := color.New(color.FgCyan)
	_, _ = cyan.Fprint(out, banner)

	gray := color.New(color.FgHiBlack)
	_, _ = gray.Fprintf(out, "    version: %s\n\n", version)

	cfg, configPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	line := func(label, value string) {
		_, _ = green.Fprint(out, "    ▶ ")
		_, _ = fmt.Fprintf(out, "%-10s %s\n", label, value)
	}
	line("Config:", configPath)
	line("HTTP:", cfg.Server.HTTPAddr)
	line("Format:", cfg.Presentation.Format)
	if cfg.Auth.Enabled {
		line("Issuer:", cfg.Auth.Issuer)
		line("Scope:", cfg.Auth.RequiredScope)
	} else {
		_, _ = green.Fprint(out, "    ▶ ")
		_, _ = yellow.Fprintln(out, "Auth:      disabled")
	}
	if cfg.Metrics.Enabled {
		line("Metrics:", cfg.Metrics.Path)
	}
	_, _ = fmt.Fprintln(out)

	logger.Info("starting matdevis",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"auth", cfg.Auth.Enabled,
	)

	if version != "dev" {
		gateway.Version = version
	}
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func newHealthCmd(opts *options) *cobra.Command {
	var ready bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			path := "/health"
			if ready {
				path = "/health/ready"
			}
			return runHealth(cmd.Context(), cmd.OutOrStdout(), healthURL(cfg.Server.HTTPAddr, path))
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "probe /health/ready instead of /health")
	return cmd
}

// healthURL targets loopback when the server listens on every interface.
func healthURL(addr, path string) string {
	host, port, err := net.SplitHostPort(addr)
	if err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		addr = net.JoinHostPort("127.0.0.1", port)
	}
	return "http://" + addr + path
}

func runHealth(ctx context.Context, out io.Writer, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	_, _ = fmt.Fprintf(out, "healthy: %s\n", body)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "matdevis %s\n", version)
		},
	}
}
