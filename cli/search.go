package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/alpkeskin/gotoon"
	"github.com/spf13/cobra"

	"github.com/semdex/semdex/config"
	"github.com/semdex/semdex/store"
)

var (
	searchLimit   int
	searchJSON    bool
	searchTOON    bool
	searchCompact bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed folders semantically",
	Long: `Search all indexed folders using natural language.

The query is embedded with the configured provider and matched against
stored chunk vectors. Results from every watched folder are merged and
ranked by similarity.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	searchCmd.Flags().BoolVarP(&searchJSON, "json", "j", false, "Output results as JSON")
	searchCmd.Flags().BoolVarP(&searchTOON, "toon", "t", false, "Output results as TOON (token-efficient format for AI agents)")
	searchCmd.Flags().BoolVarP(&searchCompact, "compact", "c", false, "Omit chunk content from JSON/TOON output")
	searchCmd.MarkFlagsMutuallyExclusive("json", "toon")
}

// SearchResultOutput is the JSON/TOON shape of one search hit.
type SearchResultOutput struct {
	Folder    string  `json:"folder,omitempty"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
	Content   string  `json:"content,omitempty"`
}

// folderResult pairs a search hit with the folder it came from.
type folderResult struct {
	FolderID string
	store.SearchResult
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]
	ctx := cmd.Context()

	root, err := config.FindRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	emb, err := initializeEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer emb.Close()

	queryVector, err := emb.Embed(ctx, query)
	if err != nil {
		return outputSearchError(fmt.Errorf("failed to embed query: %w", err))
	}

	results, err := searchFolders(ctx, cfg, root, queryVector, searchLimit)
	if err != nil {
		return outputSearchError(err)
	}

	if searchJSON || searchTOON {
		return outputSearchStructured(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found. Is the watch daemon running?")
		return nil
	}

	fmt.Printf("Found %d results for: %q\n\n", len(results), query)

	multiFolder := len(watchedFolders(cfg, root)) > 1
	for i, result := range results {
		fmt.Printf("─── Result %d (score: %.4f) ───\n", i+1, result.Score)
		if multiFolder {
			fmt.Printf("Folder: %s\n", result.FolderID)
		}
		fmt.Printf("File: %s:%d-%d\n", result.Chunk.FilePath, result.Chunk.StartLine, result.Chunk.EndLine)
		fmt.Println()
		printChunkContent(result.Chunk)
		fmt.Println()
	}
	return nil
}

// searchFolders queries every watched folder's store and merges the hits by
// score. Folders whose index cannot be opened are skipped with a warning so
// one broken backend does not hide the rest.
func searchFolders(ctx context.Context, cfg *config.Config, root string, queryVector []float32, limit int) ([]folderResult, error) {
	folders := watchedFolders(cfg, root)
	merged := make([]folderResult, 0, limit*len(folders))
	var openErr error

	for _, f := range folders {
		st, err := initializeStore(ctx, cfg, root, f)
		if err != nil {
			openErr = fmt.Errorf("folder %s: %w", f.FolderID(), err)
			fmt.Fprintf(os.Stderr, "Warning: skipping folder %s: %v\n", f.FolderID(), err)
			continue
		}

		hits, err := st.Search(ctx, queryVector, limit)
		st.Close()
		if err != nil {
			return nil, fmt.Errorf("folder %s: search failed: %w", f.FolderID(), err)
		}
		for _, hit := range hits {
			merged = append(merged, folderResult{FolderID: f.FolderID(), SearchResult: hit})
		}
	}

	if len(merged) == 0 && openErr != nil {
		return nil, openErr
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// printChunkContent renders a chunk with line numbers, capped at 15 lines.
func printChunkContent(chunk store.Chunk) {
	lines := strings.Split(chunk.Content, "\n")

	// Chunks are stored with a "File: xxx" header line; skip it and the
	// blank line after it.
	startIdx := 0
	if len(lines) > 0 && strings.HasPrefix(lines[0], "File: ") {
		startIdx = 2
	}

	lineNum := chunk.StartLine
	for i := startIdx; i < len(lines) && i < startIdx+15; i++ {
		fmt.Printf("%4d │ %s\n", lineNum, lines[i])
		lineNum++
	}
	if len(lines)-startIdx > 15 {
		fmt.Printf("     │ ... (%d more lines)\n", len(lines)-startIdx-15)
	}
}

func outputSearchStructured(results []folderResult) error {
	out := make([]SearchResultOutput, len(results))
	for i, r := range results {
		out[i] = SearchResultOutput{
			Folder:    r.FolderID,
			FilePath:  r.Chunk.FilePath,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
		}
		if !searchCompact {
			out[i].Content = r.Chunk.Content
		}
	}

	if searchTOON {
		output, err := gotoon.Encode(out)
		if err != nil {
			return fmt.Errorf("failed to encode TOON: %w", err)
		}
		fmt.Println(output)
		return nil
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// outputSearchError reports a failure in the requested output format so
// agent callers get machine-readable errors.
func outputSearchError(err error) error {
	switch {
	case searchJSON:
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(map[string]string{"error": err.Error()})
		return nil
	case searchTOON:
		output, encErr := gotoon.Encode(map[string]string{"error": err.Error()})
		if encErr != nil {
			return fmt.Errorf("failed to encode TOON error: %w", encErr)
		}
		fmt.Println(output)
		return nil
	}
	return err
}
