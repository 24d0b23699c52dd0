// Package mcp provides an MCP (Model Context Protocol) server for semdex.
// This allows AI agents to search the indexes as a native tool.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alpkeskin/gotoon"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/semdex/semdex/config"
	"github.com/semdex/semdex/embedder"
	"github.com/semdex/semdex/store"
)

// Server wraps the MCP server with semdex search and status tools.
type Server struct {
	mcpServer   *server.MCPServer
	projectRoot string
}

// SearchResult is the MCP output shape of one search hit.
type SearchResult struct {
	Folder    string  `json:"folder,omitempty"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
	Content   string  `json:"content,omitempty"`
}

// FolderStatus is the per-folder part of the index status output.
type FolderStatus struct {
	Folder      string `json:"folder"`
	Path        string `json:"path"`
	TotalFiles  int    `json:"total_files"`
	TotalChunks int    `json:"total_chunks"`
	IndexSize   string `json:"index_size"`
	LastUpdated string `json:"last_updated,omitempty"`
	Error       string `json:"error,omitempty"`
}

// IndexStatus is the output of the semdex_index_status tool.
type IndexStatus struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Backend  string         `json:"backend"`
	Folders  []FolderStatus `json:"folders"`
}

// FolderEntry is the output shape of the semdex_list_folders tool.
type FolderEntry struct {
	Folder string `json:"folder"`
	Path   string `json:"path"`
}

// NewServer creates a new MCP server rooted at a semdex project.
func NewServer(projectRoot string) (*Server, error) {
	s := &Server{
		projectRoot: projectRoot,
	}

	s.mcpServer = server.NewMCPServer(
		"semdex",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	searchTool := mcp.NewTool("semdex_search",
		mcp.WithDescription("Semantic search across all watched folders. Search indexed files using natural language queries. Returns the most relevant chunks with file paths, line numbers, and similarity scores."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language search query (e.g., 'retry with exponential backoff', 'config file parsing')"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (default: 10)"),
		),
		mcp.WithBoolean("compact",
			mcp.Description("Return minimal output without content (default: false)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
		mcp.WithString("folder",
			mcp.Description("Restrict the search to one watched folder by ID (optional)"),
		),
	)
	s.mcpServer.AddTool(searchTool, s.handleSearch)

	indexStatusTool := mcp.NewTool("semdex_index_status",
		mcp.WithDescription("Check the health of the semdex indexes. Returns per-folder statistics about indexed files and chunks plus the embedding configuration."),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(indexStatusTool, s.handleIndexStatus)

	listFoldersTool := mcp.NewTool("semdex_list_folders",
		mcp.WithDescription("List the folders semdex watches and indexes."),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(listFoldersTool, s.handleListFolders)
}

// handleSearch handles the semdex_search tool call.
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	limit := request.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}
	compact := request.GetBool("compact", false)
	format := request.GetString("format", "json")
	folderID := request.GetString("folder", "")

	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	cfg, err := config.Load(s.projectRoot)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load configuration: %v", err)), nil
	}

	folders, err := s.selectFolders(cfg, folderID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	emb, err := embedder.NewFromConfig(cfg.Embedder)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to initialize embedder: %v", err)), nil
	}
	defer emb.Close()

	queryVector, err := emb.Embed(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to embed query: %v", err)), nil
	}

	var merged []SearchResult
	for _, f := range folders {
		st, err := s.openStore(ctx, cfg, f)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("folder %s: %v", f.FolderID(), err)), nil
		}
		hits, err := st.Search(ctx, queryVector, limit)
		st.Close()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("folder %s: search failed: %v", f.FolderID(), err)), nil
		}
		for _, hit := range hits {
			result := SearchResult{
				Folder:    f.FolderID(),
				FilePath:  hit.Chunk.FilePath,
				StartLine: hit.Chunk.StartLine,
				EndLine:   hit.Chunk.EndLine,
				Score:     hit.Score,
			}
			if !compact {
				result.Content = hit.Chunk.Content
			}
			merged = append(merged, result)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	output, err := encodeOutput(merged, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode results: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

// handleIndexStatus handles the semdex_index_status tool call.
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	cfg, err := config.Load(s.projectRoot)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load configuration: %v", err)), nil
	}

	status := IndexStatus{
		Provider: cfg.Embedder.Provider,
		Model:    cfg.Embedder.Model,
		Backend:  cfg.Store.Backend,
	}

	for _, f := range s.folders(cfg) {
		entry := FolderStatus{
			Folder: f.FolderID(),
			Path:   f.ResolvePath(s.projectRoot),
		}

		st, err := s.openStore(ctx, cfg, f)
		if err != nil {
			entry.Error = err.Error()
			status.Folders = append(status.Folders, entry)
			continue
		}
		stats, err := st.GetStats(ctx)
		st.Close()
		if err != nil {
			entry.Error = err.Error()
			status.Folders = append(status.Folders, entry)
			continue
		}

		entry.TotalFiles = stats.TotalFiles
		entry.TotalChunks = stats.TotalChunks
		entry.IndexSize = formatBytes(stats.IndexSize)
		if !stats.LastUpdated.IsZero() {
			entry.LastUpdated = stats.LastUpdated.Format(time.RFC3339)
		}
		status.Folders = append(status.Folders, entry)
	}

	output, err := encodeOutput(status, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode status: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

// handleListFolders handles the semdex_list_folders tool call.
func (s *Server) handleListFolders(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	cfg, err := config.Load(s.projectRoot)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load configuration: %v", err)), nil
	}

	entries := make([]FolderEntry, 0)
	for _, f := range s.folders(cfg) {
		entries = append(entries, FolderEntry{
			Folder: f.FolderID(),
			Path:   f.ResolvePath(s.projectRoot),
		})
	}

	output, err := encodeOutput(entries, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode folders: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

// folders returns the configured folders, defaulting to the project root
// when the config lists none.
func (s *Server) folders(cfg *config.Config) []config.FolderConfig {
	if len(cfg.Folders) > 0 {
		return cfg.Folders
	}
	return []config.FolderConfig{{Path: s.projectRoot}}
}

// selectFolders restricts the folder list to one ID when requested.
func (s *Server) selectFolders(cfg *config.Config, folderID string) ([]config.FolderConfig, error) {
	folders := s.folders(cfg)
	if folderID == "" {
		return folders, nil
	}
	for _, f := range folders {
		if f.FolderID() == folderID {
			return []config.FolderConfig{f}, nil
		}
	}
	return nil, fmt.Errorf("no watched folder with ID %q", folderID)
}

// openStore opens the vector store for one watched folder, mirroring the
// per-folder isolation used by the watch daemon.
func (s *Server) openStore(ctx context.Context, cfg *config.Config, folder config.FolderConfig) (store.VectorStore, error) {
	folderPath := folder.ResolvePath(s.projectRoot)

	switch cfg.Store.Backend {
	case "gob":
		gobStore := store.NewGobStore(config.GetFolderIndexPath(s.projectRoot, folder.FolderID()))
		if err := gobStore.Load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load index: %w", err)
		}
		return gobStore, nil
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Store.Postgres.DSN, folderPath, cfg.Embedder.GetDimensions())
	case "qdrant":
		collection := cfg.Store.Qdrant.Collection
		if collection == "" {
			collection = store.SanitizeCollectionName(folderPath)
		}
		return store.NewQdrantStore(ctx, store.QdrantOptions{
			Endpoint:   cfg.Store.Qdrant.Endpoint,
			Port:       cfg.Store.Qdrant.Port,
			UseTLS:     cfg.Store.Qdrant.UseTLS,
			Collection: collection,
			APIKey:     cfg.Store.Qdrant.APIKey,
			Dimensions: cfg.Embedder.GetDimensions(),
			MetaPath:   config.GetFolderMetaPath(s.projectRoot, folder.FolderID()),
		})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Store.Backend)
	}
}

// encodeOutput encodes data in the requested format (json or toon).
func encodeOutput(data any, format string) (string, error) {
	switch format {
	case "toon":
		return gotoon.Encode(data)
	default:
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}
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

// Serve starts the MCP server over stdio. It blocks until the client
// disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}
