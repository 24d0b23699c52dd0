package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/semdex/semdex/config"
)

var folderAddID string

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage watched folders",
	Long: `Manage the set of folders indexed by the watch daemon.

Each watched folder is scanned, indexed, and kept in sync independently.
Changes take effect the next time the daemon starts.`,
}

var folderAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add a folder to the watch list",
	Args:  cobra.ExactArgs(1),
	RunE:  runFolderAdd,
}

var folderRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a folder from the watch list",
	Args:  cobra.ExactArgs(1),
	RunE:  runFolderRemove,
}

var folderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched folders",
	RunE:  runFolderList,
}

func init() {
	folderAddCmd.Flags().StringVar(&folderAddID, "id", "", "Folder ID (defaults to the directory name)")
	folderCmd.AddCommand(folderAddCmd)
	folderCmd.AddCommand(folderRemoveCmd)
	folderCmd.AddCommand(folderListCmd)
}

func runFolderAdd(cmd *cobra.Command, args []string) error {
	root, err := config.FindRoot()
	if err != nil {
		return err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	path := args[0]
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	// Store paths inside the project relative to the root so the config
	// survives moving the project directory.
	stored := abs
	if rel, err := filepath.Rel(root, abs); err == nil && !filepath.IsAbs(rel) && rel != ".." && !hasDotDotPrefix(rel) {
		stored = rel
	}

	folder := config.FolderConfig{ID: folderAddID, Path: stored}
	if err := cfg.AddFolder(folder); err != nil {
		return err
	}

	if err := cfg.Save(root); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Added folder %s (%s)\n", folder.FolderID(), abs)
	fmt.Println("Restart the watch daemon to start indexing it.")
	return nil
}

func runFolderRemove(cmd *cobra.Command, args []string) error {
	root, err := config.FindRoot()
	if err != nil {
		return err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	id := args[0]
	if !cfg.RemoveFolder(id) {
		return fmt.Errorf("no watched folder with ID %q", id)
	}

	if err := cfg.Save(root); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Removed folder %s\n", id)
	fmt.Println("Its index file is kept; delete it from .semdex/ to reclaim space.")
	return nil
}

func runFolderList(cmd *cobra.Command, args []string) error {
	root, err := config.FindRoot()
	if err != nil {
		return err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	folders := watchedFolders(cfg, root)
	fmt.Printf("Watched folders (%d):\n", len(folders))
	for _, f := range folders {
		fmt.Printf("  %-20s %s\n", f.FolderID(), f.ResolvePath(root))
	}
	return nil
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}
