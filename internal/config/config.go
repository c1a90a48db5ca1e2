package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
)

// StorageConfig locates the document folders and the persisted index.
type StorageConfig struct {
	BaseDir         string `yaml:"base_dir"`
	UploadsDir      string `yaml:"uploads_dir"`
	IndexPath       string `yaml:"index_path"`
	LockTimeoutSecs int    `yaml:"lock_timeout_secs"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	MaxRetries  int    `yaml:"max_retries"`
}

// HashingEmbedderConfig configures the local feature-hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                 `yaml:"type"`
	CacheSize int                    `yaml:"cache_size"`
	Hashing   *HashingEmbedderConfig `yaml:"hashing,omitempty"`
	OpenAI    *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
}

// FlatIndexConfig selects the on-disk format of the in-process index.
type FlatIndexConfig struct {
	Format string `yaml:"format"`
}

// QdrantConfig contains connection details for a Qdrant collection.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// VectorIndexConfig selects and configures the vector index implementation.
type VectorIndexConfig struct {
	Type   string           `yaml:"type"`
	Flat   *FlatIndexConfig `yaml:"flat,omitempty"`
	Qdrant *QdrantConfig    `yaml:"qdrant,omitempty"`
}

// RetrievalConfig controls how many chunks are fetched and which are kept.
// RelevanceThreshold is a distance: chunks scoring below it are kept.
type RetrievalConfig struct {
	TopK               int     `yaml:"top_k"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
}

// LLMConfig configures the OpenAI-compatible chat model.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Storage     StorageConfig     `yaml:"storage"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	LLM         LLMConfig         `yaml:"llm"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfig, path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./docqa.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "docqa.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first invalid setting, wrapped in domain.ErrConfig.
func (c *AppConfig) Validate() error {
	switch {
	case c.Chunker.ChunkSize <= 0:
		return fmt.Errorf("%w: chunker.chunk_size must be positive", domain.ErrConfig)
	case c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize:
		return fmt.Errorf("%w: chunker.chunk_overlap must be in [0, chunk_size)", domain.ErrConfig)
	case c.Retrieval.TopK <= 0:
		return fmt.Errorf("%w: retrieval.top_k must be positive", domain.ErrConfig)
	case c.Retrieval.RelevanceThreshold <= 0:
		return fmt.Errorf("%w: retrieval.relevance_threshold must be positive", domain.ErrConfig)
	case c.Storage.IndexPath == "":
		return fmt.Errorf("%w: storage.index_path is required", domain.ErrConfig)
	}
	switch c.Embedder.Type {
	case "hashing", "openai":
	default:
		return fmt.Errorf("%w: unknown embedder %q", domain.ErrConfig, c.Embedder.Type)
	}
	switch c.VectorIndex.Type {
	case "flat":
		if c.VectorIndex.Flat == nil {
			return fmt.Errorf("%w: vector_index.flat is required", domain.ErrConfig)
		}
		switch c.VectorIndex.Flat.Format {
		case "gob", "sqlite":
		default:
			return fmt.Errorf("%w: unknown flat index format %q", domain.ErrConfig, c.VectorIndex.Flat.Format)
		}
	case "qdrant":
		if c.VectorIndex.Qdrant == nil || c.VectorIndex.Qdrant.URL == "" {
			return fmt.Errorf("%w: vector_index.qdrant.url is required", domain.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown vector index %q", domain.ErrConfig, c.VectorIndex.Type)
	}
	return nil
}

// LockTimeout is how long an ingestion waits for the index writer lock.
func (c *AppConfig) LockTimeout() time.Duration {
	return time.Duration(c.Storage.LockTimeoutSecs) * time.Second
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Storage.BaseDir == "" {
		cfg.Storage.BaseDir = "documents"
	}
	if cfg.Storage.UploadsDir == "" {
		cfg.Storage.UploadsDir = "uploaded_docs"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "docqa_index"
	}
	if cfg.Storage.LockTimeoutSecs == 0 {
		cfg.Storage.LockTimeoutSecs = 30
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 500
	}
	if cfg.Chunker.ChunkOverlap == 0 {
		cfg.Chunker.ChunkOverlap = 50
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.CacheSize == 0 {
		cfg.Embedder.CacheSize = 1024
	}
	if cfg.Embedder.Type == "hashing" {
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 1024
		}
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 5
		}
	}
	if cfg.VectorIndex.Type == "" {
		cfg.VectorIndex.Type = "flat"
	}
	if cfg.VectorIndex.Type == "flat" {
		if cfg.VectorIndex.Flat == nil {
			cfg.VectorIndex.Flat = &FlatIndexConfig{}
		}
		if cfg.VectorIndex.Flat.Format == "" {
			cfg.VectorIndex.Flat.Format = "gob"
		}
	}
	if cfg.VectorIndex.Type == "qdrant" && cfg.VectorIndex.Qdrant != nil {
		if cfg.VectorIndex.Qdrant.Collection == "" {
			cfg.VectorIndex.Qdrant.Collection = "docqa"
		}
		if cfg.VectorIndex.Qdrant.TimeoutSecs == 0 {
			cfg.VectorIndex.Qdrant.TimeoutSecs = 15
		}
		if cfg.VectorIndex.Qdrant.BatchSize == 0 {
			cfg.VectorIndex.Qdrant.BatchSize = 256
		}
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 4
	}
	if cfg.Retrieval.RelevanceThreshold == 0 {
		cfg.Retrieval.RelevanceThreshold = 1.0
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "GROQ_API_KEY"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "openai/gpt-oss-20b"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.2
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
