// CLAUDE:SUMMARY quickcart CLI (cobra): add to cart in Chrome, manage remembered quantities, probe saved pages, serve HTTP/MCP.
// Command quickcart adds products to a retailer's cart in a Go-driven Chrome.
//
//	quickcart sites
//	quickcart add --url https://www.bestbuy.com/site/... --qty 2
//	quickcart quantity get|set|list
//	quickcart history --failures
//	quickcart probe --file page.html --url https://www.gamestop.com/... --qty 3
//	quickcart serve
//	quickcart mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/quickcart/agent"
	"github.com/hazyhaar/quickcart/config"
)

var (
	configPath string
	logLevel   string
	output     string
)

var rootCmd = &cobra.Command{
	Use:           "quickcart",
	Short:         "Add products to retail carts with a remembered quantity",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("QUICKCART_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output format (json)")

	rootCmd.AddCommand(sitesCmd, addCmd, quantityCmd, historyCmd, probeCmd, serveCmd, mcpCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

// loadConfig reads the config and installs the JSON logger on stderr.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(name string) *slog.Logger {
	var level slog.Level
	switch name {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openAgent loads the config, lets adjust edit it and starts an agent.
// The caller closes it.
func openAgent(ctx context.Context, adjust func(*config.Config), opts ...agent.Option) (*agent.Agent, *config.Config, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}
	a, err := agent.New(ctx, cfg, append([]agent.Option{agent.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func jsonOutput() bool { return output == "json" }

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
