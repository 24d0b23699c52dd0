package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/semdex/semdex/config"
	"github.com/semdex/semdex/mcp"
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve [project-path]",
	Short: "Start semdex as an MCP server",
	Long: `Start semdex as an MCP (Model Context Protocol) server.

This lets AI agents use semdex as a native tool over stdio. The server
exposes the following tools:

  - semdex_search: Semantic search across all watched folders
  - semdex_index_status: Index statistics per watched folder
  - semdex_list_folders: List the watched folders

Arguments:
  project-path  Optional path to the semdex project directory.
                If not provided, searches for .semdex from the current
                directory upward.

Configuration for Claude Code:
  claude mcp add semdex -- semdex mcp-serve

Configuration for Cursor (.cursor/mcp.json):
  {
    "mcpServers": {
      "semdex": {
        "command": "semdex",
        "args": ["mcp-serve"]
      }
    }
  }`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMCPServe,
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	var root string
	if len(args) > 0 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}
		if !config.Exists(abs) {
			return fmt.Errorf("no semdex project found at %s (run 'semdex init' first)", abs)
		}
		root = abs
	} else {
		var err error
		root, err = config.FindRoot()
		if err != nil {
			return err
		}
	}

	srv, err := mcp.NewServer(root)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return srv.Serve()
}
