package cli

import (
	"context"
	"fmt"

	"github.com/semdex/semdex/config"
	"github.com/semdex/semdex/embedder"
	"github.com/semdex/semdex/store"
)

// watchedFolders returns the configured folders, defaulting to the project
// root itself when the config lists none.
func watchedFolders(cfg *config.Config, root string) []config.FolderConfig {
	if len(cfg.Folders) > 0 {
		return cfg.Folders
	}
	return []config.FolderConfig{{Path: root}}
}

// initializeEmbedder builds the configured embedding provider and, for
// local providers, verifies the endpoint is actually reachable so watch
// fails fast instead of erroring on the first task.
func initializeEmbedder(ctx context.Context, cfg *config.Config) (embedder.Embedder, error) {
	emb, err := embedder.NewFromConfig(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	switch cfg.Embedder.Provider {
	case "ollama":
		if err := emb.Ping(ctx); err != nil {
			emb.Close()
			return nil, fmt.Errorf("cannot connect to Ollama: %w\nMake sure Ollama is running and has the %s model", err, cfg.Embedder.Model)
		}
	case "lmstudio":
		if err := emb.Ping(ctx); err != nil {
			emb.Close()
			return nil, fmt.Errorf("cannot connect to LM Studio: %w\nMake sure LM Studio is running with the %s model loaded", err, cfg.Embedder.Model)
		}
	}

	return emb, nil
}

// initializeStore opens the vector store for one watched folder. Each
// folder gets an isolated store: its own gob file, its own folder scope
// in Postgres, or its own Qdrant collection.
func initializeStore(ctx context.Context, cfg *config.Config, root string, folder config.FolderConfig) (store.VectorStore, error) {
	folderPath := folder.ResolvePath(root)

	switch cfg.Store.Backend {
	case "gob":
		gobStore := store.NewGobStore(config.GetFolderIndexPath(root, folder.FolderID()))
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
			MetaPath:   config.GetFolderMetaPath(root, folder.FolderID()),
		})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Store.Backend)
	}
}
