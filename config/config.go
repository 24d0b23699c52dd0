// Package config reads and writes the .semdex/config.yaml file that
// describes which folders to index and how.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/semdex/semdex/lifecycle"
)

const (
	ConfigDir      = ".semdex"
	ConfigFileName = "config.yaml"
	IndexFileName  = "index.gob"
	MetaFileName   = "meta.gob"
)

type Config struct {
	Version   int             `yaml:"version"`
	Folders   []FolderConfig  `yaml:"folders"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Store     StoreConfig     `yaml:"store"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Scan      ScanConfig      `yaml:"scan"`
	Watch     WatchConfig     `yaml:"watch"`
	Ignore    []string        `yaml:"ignore"`
}

// FolderConfig names one indexed folder. ID defaults to the path when
// omitted.
type FolderConfig struct {
	ID   string `yaml:"id,omitempty"`
	Path string `yaml:"path"`
}

func (f FolderConfig) FolderID() string {
	if f.ID != "" {
		return f.ID
	}
	return f.Path
}

// ResolvePath returns the folder's absolute path, resolving relative
// entries against the project root.
func (f FolderConfig) ResolvePath(root string) string {
	if filepath.IsAbs(f.Path) {
		return filepath.Clean(f.Path)
	}
	return filepath.Join(root, f.Path)
}

type EmbedderConfig struct {
	Provider    string `yaml:"provider"` // ollama | openai | openrouter | lmstudio
	Model       string `yaml:"model"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	APIKey      string `yaml:"api_key,omitempty"`
	Dimensions  *int   `yaml:"dimensions,omitempty"`
	Parallelism int    `yaml:"parallelism,omitempty"`
}

// GetDimensions returns the configured dimensions or the provider default.
func (e *EmbedderConfig) GetDimensions() int {
	if e.Dimensions != nil {
		return *e.Dimensions
	}
	switch e.Provider {
	case "openai", "openrouter":
		return 1536
	default:
		return 768
	}
}

type StoreConfig struct {
	Backend  string         `yaml:"backend"` // gob | postgres | qdrant
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
	Qdrant   QdrantConfig   `yaml:"qdrant,omitempty"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type QdrantConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Port       int    `yaml:"port,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	UseTLS     bool   `yaml:"use_tls,omitempty"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// LifecycleConfig tunes the per-folder indexing lifecycle.
type LifecycleConfig struct {
	MaxRetries         int    `yaml:"max_retries"`
	RetryDelayMs       int    `yaml:"retry_delay_ms"`
	MaxConcurrentTasks int    `yaml:"max_concurrent_tasks"`
	ProgressThrottleMs int    `yaml:"progress_throttle_ms"`
	ScanIntervalMs     int    `yaml:"scan_interval_ms"`
	ErrorRecovery      string `yaml:"error_recovery"` // auto | manual
	ErrorRetryMs       int    `yaml:"error_retry_ms"`
}

// ToCore converts the YAML millisecond fields to the lifecycle package's
// duration-based config.
func (l LifecycleConfig) ToCore() lifecycle.Config {
	cfg := lifecycle.DefaultConfig()
	if l.MaxRetries > 0 {
		cfg.MaxRetries = l.MaxRetries
	}
	if l.RetryDelayMs > 0 {
		cfg.RetryDelay = time.Duration(l.RetryDelayMs) * time.Millisecond
	}
	if l.MaxConcurrentTasks > 0 {
		cfg.MaxConcurrentTasks = l.MaxConcurrentTasks
	}
	if l.ProgressThrottleMs > 0 {
		cfg.ProgressThrottle = time.Duration(l.ProgressThrottleMs) * time.Millisecond
	}
	if l.ScanIntervalMs > 0 {
		cfg.ScanInterval = time.Duration(l.ScanIntervalMs) * time.Millisecond
	}
	switch l.ErrorRecovery {
	case "auto":
		cfg.ErrorRecovery = lifecycle.RecoverAuto
	case "manual":
		cfg.ErrorRecovery = lifecycle.RecoverManual
	}
	if l.ErrorRetryMs > 0 {
		cfg.ErrorRetryBase = time.Duration(l.ErrorRetryMs) * time.Millisecond
	}
	return cfg
}

// ScanConfig controls how the change scanner reads folders.
type ScanConfig struct {
	HashContent       bool     `yaml:"hash_content"`
	MaxFileSize       int64    `yaml:"max_file_size,omitempty"`
	IncludeExtensions []string `yaml:"include_extensions,omitempty"`
}

type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

func DefaultConfig() *Config {
	defaultDim := 768
	return &Config{
		Version: 1,
		Embedder: EmbedderConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Endpoint:   "http://localhost:11434",
			Dimensions: &defaultDim,
		},
		Store: StoreConfig{
			Backend: "gob",
		},
		Chunking: ChunkingConfig{
			Size:    512,
			Overlap: 50,
		},
		Lifecycle: LifecycleConfig{
			MaxRetries:         3,
			RetryDelayMs:       1000,
			MaxConcurrentTasks: 4,
			ProgressThrottleMs: 300,
			ScanIntervalMs:     500,
			ErrorRecovery:      "auto",
			ErrorRetryMs:       5000,
		},
		Scan: ScanConfig{
			MaxFileSize: 2 << 20,
		},
		Watch: WatchConfig{
			DebounceMs: 500,
		},
		Ignore: []string{
			".git",
			".semdex",
			"node_modules",
			"vendor",
			"bin",
			"dist",
			"__pycache__",
			".venv",
			"venv",
			".idea",
			".vscode",
			"target",
		},
	}
}

func GetConfigDir(root string) string {
	return filepath.Join(root, ConfigDir)
}

func GetConfigPath(root string) string {
	return filepath.Join(GetConfigDir(root), ConfigFileName)
}

func GetIndexPath(root string) string {
	return filepath.Join(GetConfigDir(root), IndexFileName)
}

func GetMetaPath(root string) string {
	return filepath.Join(GetConfigDir(root), MetaFileName)
}

// GetFolderIndexPath returns the gob index file for one watched folder.
// The first configured folder (the project root itself) keeps the plain
// index.gob name so single-folder setups stay compatible.
func GetFolderIndexPath(root, folderID string) string {
	if folderID == "" || folderID == root {
		return GetIndexPath(root)
	}
	return filepath.Join(GetConfigDir(root), "index_"+sanitizeFolderID(folderID)+".gob")
}

// GetFolderMetaPath returns the metadata sidecar for one watched folder.
func GetFolderMetaPath(root, folderID string) string {
	if folderID == "" || folderID == root {
		return GetMetaPath(root)
	}
	return filepath.Join(GetConfigDir(root), "meta_"+sanitizeFolderID(folderID)+".gob")
}

func sanitizeFolderID(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return strings.Trim(string(out), "_")
}

func Load(root string) (*Config, error) {
	data, err := os.ReadFile(GetConfigPath(root))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills missing values so older config files keep working.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Embedder.Endpoint == "" && c.Embedder.Provider == "ollama" {
		c.Embedder.Endpoint = defaults.Embedder.Endpoint
	}
	if c.Embedder.Dimensions == nil {
		switch c.Embedder.Provider {
		case "ollama", "lmstudio":
			dim := 768
			c.Embedder.Dimensions = &dim
		}
	}
	if c.Embedder.Parallelism <= 0 {
		c.Embedder.Parallelism = 4
	}

	if c.Store.Backend == "" {
		c.Store.Backend = defaults.Store.Backend
	}
	if c.Store.Backend == "qdrant" && c.Store.Qdrant.Port <= 0 {
		c.Store.Qdrant.Port = 6334
	}

	if c.Chunking.Size == 0 {
		c.Chunking.Size = defaults.Chunking.Size
	}
	if c.Chunking.Overlap == 0 {
		c.Chunking.Overlap = defaults.Chunking.Overlap
	}

	d := defaults.Lifecycle
	if c.Lifecycle.MaxRetries == 0 {
		c.Lifecycle.MaxRetries = d.MaxRetries
	}
	if c.Lifecycle.RetryDelayMs == 0 {
		c.Lifecycle.RetryDelayMs = d.RetryDelayMs
	}
	if c.Lifecycle.MaxConcurrentTasks == 0 {
		c.Lifecycle.MaxConcurrentTasks = d.MaxConcurrentTasks
	}
	if c.Lifecycle.ProgressThrottleMs == 0 {
		c.Lifecycle.ProgressThrottleMs = d.ProgressThrottleMs
	}
	if c.Lifecycle.ScanIntervalMs == 0 {
		c.Lifecycle.ScanIntervalMs = d.ScanIntervalMs
	}
	if c.Lifecycle.ErrorRecovery == "" {
		c.Lifecycle.ErrorRecovery = d.ErrorRecovery
	}
	if c.Lifecycle.ErrorRetryMs == 0 {
		c.Lifecycle.ErrorRetryMs = d.ErrorRetryMs
	}

	if c.Scan.MaxFileSize == 0 {
		c.Scan.MaxFileSize = defaults.Scan.MaxFileSize
	}

	if c.Watch.DebounceMs == 0 {
		c.Watch.DebounceMs = defaults.Watch.DebounceMs
	}

	if c.Ignore == nil {
		c.Ignore = defaults.Ignore
	}
}

func (c *Config) Save(root string) error {
	configDir := GetConfigDir(root)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(GetConfigPath(root), data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// AddFolder appends a folder unless its ID is already present.
func (c *Config) AddFolder(f FolderConfig) error {
	for _, existing := range c.Folders {
		if existing.FolderID() == f.FolderID() {
			return fmt.Errorf("folder %s already configured", f.FolderID())
		}
	}
	c.Folders = append(c.Folders, f)
	return nil
}

// RemoveFolder deletes a folder by ID and reports whether it was present.
func (c *Config) RemoveFolder(id string) bool {
	for i, f := range c.Folders {
		if f.FolderID() == id {
			c.Folders = append(c.Folders[:i], c.Folders[i+1:]...)
			return true
		}
	}
	return false
}

func Exists(root string) bool {
	_, err := os.Stat(GetConfigPath(root))
	return err == nil
}

// FindRoot walks up from the working directory to the nearest directory
// containing .semdex/config.yaml.
func FindRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current directory: %w", err)
	}
	cwd, err = filepath.EvalSymlinks(cwd)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}

	dir := cwd
	for {
		if Exists(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("no semdex project found (run 'semdex init' first)")
}
