// Package cli implements the semdex command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "semdex",
	Short: "Semantic folder indexing daemon",
	Long: `semdex watches folders, keeps a semantic vector index of their files,
and answers natural language searches against it.

Start with 'semdex init' in the directory you want indexed, then run
'semdex watch' to bring the index up and keep it converged with the
filesystem.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(mcpServeCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
