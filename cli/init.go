package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/semdex/semdex/config"
)

var (
	initProvider       string
	initModel          string
	initBackend        string
	initNonInteractive bool
)

const lmStudioEmbeddingDimensions = 768

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize semdex in the current directory",
	Long: `Initialize semdex by creating a .semdex directory with configuration.

This command will:
- Create .semdex/config.yaml with default settings
- Prompt for embedding provider (Ollama, LM Studio, OpenAI, or OpenRouter)
- Prompt for storage backend (GOB file, PostgreSQL, or Qdrant)
- Register the current directory as the first watched folder
- Add .semdex/ to .gitignore if present`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initProvider, "provider", "p", "", "Embedding provider (ollama, lmstudio, openai, or openrouter)")
	initCmd.Flags().StringVarP(&initModel, "model", "m", "", "Embedding model")
	initCmd.Flags().StringVarP(&initBackend, "backend", "b", "", "Storage backend (gob, postgres, or qdrant)")
	initCmd.Flags().BoolVar(&initNonInteractive, "yes", false, "Use defaults without prompting")
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	if config.Exists(cwd) {
		fmt.Println("semdex is already initialized in this directory.")
		fmt.Printf("Configuration: %s\n", config.GetConfigPath(cwd))
		return nil
	}

	cfg := config.DefaultConfig()

	if !initNonInteractive {
		reader := bufio.NewReader(os.Stdin)

		if initProvider == "" {
			fmt.Println("\nSelect embedding provider:")
			fmt.Println("  1) ollama (local, privacy-first, requires Ollama running)")
			fmt.Println("  2) lmstudio (local, OpenAI-compatible, requires LM Studio running)")
			fmt.Println("  3) openai (cloud, requires API key)")
			fmt.Println("  4) openrouter (cloud, multi-provider gateway)")
			fmt.Print("Choice [1]: ")

			input, _ := reader.ReadString('\n')
			input = strings.TrimSpace(input)

			switch input {
			case "2", "lmstudio":
				cfg.Embedder.Provider = "lmstudio"
				fmt.Print("LM Studio endpoint [http://127.0.0.1:1234/v1]: ")
				endpoint, _ := reader.ReadString('\n')
				endpoint = strings.TrimSpace(endpoint)
				if endpoint == "" {
					endpoint = "http://127.0.0.1:1234/v1"
				}
				cfg.Embedder.Endpoint = endpoint
				cfg.Embedder.Model = "text-embedding-nomic-embed-text-v1.5"
				dim := lmStudioEmbeddingDimensions
				cfg.Embedder.Dimensions = &dim
			case "3", "openai":
				cfg.Embedder.Provider = "openai"
				cfg.Embedder.Model = "text-embedding-3-small"
				cfg.Embedder.Endpoint = ""
				cfg.Embedder.Dimensions = nil
			case "4", "openrouter":
				cfg.Embedder.Provider = "openrouter"
				cfg.Embedder.Model = "openai/text-embedding-3-small"
				cfg.Embedder.Endpoint = ""
				cfg.Embedder.Dimensions = nil
			default:
				cfg.Embedder.Provider = "ollama"
				fmt.Print("Ollama endpoint [http://localhost:11434]: ")
				endpoint, _ := reader.ReadString('\n')
				endpoint = strings.TrimSpace(endpoint)
				if endpoint == "" {
					endpoint = "http://localhost:11434"
				}
				cfg.Embedder.Endpoint = endpoint
			}
		} else {
			applyProviderFlag(cfg)
		}

		if initBackend == "" {
			fmt.Println("\nSelect storage backend:")
			fmt.Println("  1) gob (local file, recommended for most setups)")
			fmt.Println("  2) postgres (pgvector, for large folders or a shared index)")
			fmt.Println("  3) qdrant (dedicated vector database)")
			fmt.Print("Choice [1]: ")

			input, _ := reader.ReadString('\n')
			input = strings.TrimSpace(input)

			switch input {
			case "2", "postgres":
				cfg.Store.Backend = "postgres"
				fmt.Print("PostgreSQL DSN: ")
				dsn, _ := reader.ReadString('\n')
				cfg.Store.Postgres.DSN = strings.TrimSpace(dsn)
			case "3", "qdrant":
				cfg.Store.Backend = "qdrant"
				fmt.Print("Qdrant endpoint [localhost]: ")
				endpoint, _ := reader.ReadString('\n')
				endpoint = strings.TrimSpace(endpoint)
				if endpoint == "" {
					endpoint = "localhost"
				}
				cfg.Store.Qdrant.Endpoint = endpoint

				fmt.Print("Qdrant port [6334]: ")
				port, _ := reader.ReadString('\n')
				port = strings.TrimSpace(port)
				if port == "" {
					cfg.Store.Qdrant.Port = 6334
				} else {
					var portInt int
					if _, err := fmt.Sscanf(port, "%d", &portInt); err != nil {
						return fmt.Errorf("invalid port number: %w", err)
					}
					cfg.Store.Qdrant.Port = portInt
				}

				fmt.Print("Use TLS? (y/n) [n]: ")
				useTLS, _ := reader.ReadString('\n')
				useTLS = strings.TrimSpace(strings.ToLower(useTLS))
				cfg.Store.Qdrant.UseTLS = useTLS == "y" || useTLS == "yes"

				fmt.Print("API key (optional, for Qdrant Cloud): ")
				apiKey, _ := reader.ReadString('\n')
				cfg.Store.Qdrant.APIKey = strings.TrimSpace(apiKey)
			default:
				cfg.Store.Backend = "gob"
			}
		} else {
			cfg.Store.Backend = initBackend
		}
	} else {
		applyProviderFlag(cfg)
		if initBackend != "" {
			cfg.Store.Backend = initBackend
		}
	}

	if initModel != "" {
		cfg.Embedder.Model = initModel
	}

	// Register the project root as the first watched folder.
	if err := cfg.AddFolder(config.FolderConfig{ID: "root", Path: "."}); err != nil {
		return err
	}

	if err := cfg.Save(cwd); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("\nCreated configuration at %s\n", config.GetConfigPath(cwd))

	if _, err := os.Stat(filepath.Join(cwd, ".gitignore")); err == nil {
		if err := addToGitignore(cwd, config.ConfigDir+"/"); err != nil {
			fmt.Printf("Warning: could not update .gitignore: %v\n", err)
		} else {
			fmt.Println("Added .semdex/ to .gitignore")
		}
	}

	fmt.Println("\nsemdex initialized successfully!")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Start the indexing daemon: semdex watch")
	fmt.Println("  2. Search your files: semdex search \"your query\"")

	switch cfg.Embedder.Provider {
	case "ollama":
		fmt.Println("\nMake sure Ollama is running with the nomic-embed-text model:")
		fmt.Println("  ollama pull nomic-embed-text")
	case "lmstudio":
		fmt.Println("\nMake sure LM Studio is running with an embedding model loaded.")
		fmt.Printf("  Model: %s\n", cfg.Embedder.Model)
	case "openai":
		fmt.Println("\nMake sure OPENAI_API_KEY is set in your environment.")
	case "openrouter":
		fmt.Println("\nMake sure OPENROUTER_API_KEY is set in your environment.")
	}

	return nil
}

func applyProviderFlag(cfg *config.Config) {
	if initProvider == "" {
		return
	}
	cfg.Embedder.Provider = initProvider
	switch initProvider {
	case "lmstudio":
		cfg.Embedder.Model = "text-embedding-nomic-embed-text-v1.5"
		cfg.Embedder.Endpoint = "http://127.0.0.1:1234/v1"
		dim := lmStudioEmbeddingDimensions
		cfg.Embedder.Dimensions = &dim
	case "openai":
		cfg.Embedder.Model = "text-embedding-3-small"
		cfg.Embedder.Endpoint = ""
		cfg.Embedder.Dimensions = nil
	case "openrouter":
		cfg.Embedder.Model = "openai/text-embedding-3-small"
		cfg.Embedder.Endpoint = ""
		cfg.Embedder.Dimensions = nil
	}
}

// addToGitignore appends an entry to the project's .gitignore unless it is
// already listed.
func addToGitignore(root, entry string) error {
	path := filepath.Join(root, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == entry || strings.TrimSpace(line) == strings.TrimSuffix(entry, "/") {
			return nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	prefix := ""
	if len(data) > 0 && data[len(data)-1] != '\n' {
		prefix = "\n"
	}
	_, err = f.WriteString(prefix + entry + "\n")
	return err
}
