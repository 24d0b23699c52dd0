package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alpkeskin/gotoon"
	"github.com/spf13/cobra"

	"github.com/semdex/semdex/config"
	"github.com/semdex/semdex/daemon"
)

var (
	statusJSON bool
	statusTOON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and index status",
	Long: `Show whether the watch daemon is running and summarize each watched
folder's index: file count, chunk count, and when it was last updated.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "Output status as JSON")
	statusCmd.Flags().BoolVarP(&statusTOON, "toon", "t", false, "Output status as TOON")
	statusCmd.MarkFlagsMutuallyExclusive("json", "toon")
}

// FolderStatusOutput is the JSON/TOON shape of one folder's index summary.
type FolderStatusOutput struct {
	Folder      string `json:"folder"`
	Path        string `json:"path"`
	TotalFiles  int    `json:"total_files"`
	TotalChunks int    `json:"total_chunks"`
	IndexSize   int64  `json:"index_size"`
	LastUpdated string `json:"last_updated,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StatusOutput is the JSON/TOON shape of the status command.
type StatusOutput struct {
	DaemonRunning bool                 `json:"daemon_running"`
	DaemonPID     int                  `json:"daemon_pid,omitempty"`
	Folders       []FolderStatusOutput `json:"folders"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	root, err := config.FindRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	out := StatusOutput{}

	logDir, err := daemon.GetDefaultLogDir()
	if err == nil {
		if pid, err := daemon.GetRunningPID(logDir); err == nil && pid != 0 {
			out.DaemonRunning = true
			out.DaemonPID = pid
		}
	}

	for _, f := range watchedFolders(cfg, root) {
		entry := FolderStatusOutput{
			Folder: f.FolderID(),
			Path:   f.ResolvePath(root),
		}

		st, err := initializeStore(ctx, cfg, root, f)
		if err != nil {
			entry.Error = err.Error()
			out.Folders = append(out.Folders, entry)
			continue
		}
		stats, err := st.GetStats(ctx)
		st.Close()
		if err != nil {
			entry.Error = err.Error()
			out.Folders = append(out.Folders, entry)
			continue
		}

		entry.TotalFiles = stats.TotalFiles
		entry.TotalChunks = stats.TotalChunks
		entry.IndexSize = stats.IndexSize
		if !stats.LastUpdated.IsZero() {
			entry.LastUpdated = stats.LastUpdated.Format(time.RFC3339)
		}
		out.Folders = append(out.Folders, entry)
	}

	switch {
	case statusJSON:
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	case statusTOON:
		output, err := gotoon.Encode(out)
		if err != nil {
			return fmt.Errorf("failed to encode TOON: %w", err)
		}
		fmt.Println(output)
		return nil
	}

	if out.DaemonRunning {
		fmt.Printf("Watch daemon: running (PID %d)\n", out.DaemonPID)
	} else {
		fmt.Println("Watch daemon: not running")
	}
	fmt.Println()

	for _, entry := range out.Folders {
		fmt.Printf("%s (%s)\n", entry.Folder, entry.Path)
		if entry.Error != "" {
			fmt.Printf("  index unavailable: %s\n", entry.Error)
			continue
		}
		fmt.Printf("  %d files, %d chunks, %s\n", entry.TotalFiles, entry.TotalChunks, formatBytes(entry.IndexSize))
		if entry.LastUpdated != "" {
			fmt.Printf("  last updated %s\n", entry.LastUpdated)
		}
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for n/div >= unit && exp < 3 {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
