package main

import (
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/quickcart/config"
	"github.com/hazyhaar/quickcart/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and MCP over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		a, cfg, err := openAgent(cmd.Context(), func(c *config.Config) {
			if addr != "" {
				c.Server.Addr = addr
			}
		})
		if err != nil {
			return err
		}
		defer a.Close()

		srv := server.New(a, cfg.Server)
		return srv.ListenAndServe(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol.
		a, cfg, err := openAgent(cmd.Context(), func(c *config.Config) { c.Notify.Stdout = false })
		if err != nil {
			return err
		}
		defer a.Close()

		srv := server.New(a, cfg.Server)
		if err := srv.MCP().Run(cmd.Context(), &mcp.StdioTransport{}); err != nil && cmd.Context().Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
}
