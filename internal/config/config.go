// Package config loads the finrag configuration from TOML with env
// variable overrides.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Chunking  ChunkingConfig  `toml:"chunking"`
	Database  DatabaseConfig  `toml:"database"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Observer  ObserverConfig  `toml:"observer"`
}

type ChunkingConfig struct {
	ChildChunkSize    int    `toml:"child_chunk_size"`
	ChildChunkOverlap int    `toml:"child_chunk_overlap"`
	ParentStrategy    string `toml:"parent_strategy"`
	PagesPerParent    int    `toml:"pages_per_parent"`
}

type DatabaseConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend     string `toml:"backend"`
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type EmbeddingConfig struct {
	Model      string `toml:"model"`
	BaseURL    string `toml:"base_url"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
}

type RetrievalConfig struct {
	TopKChildren  int     `toml:"top_k_children"`
	TopKParents   int     `toml:"top_k_parents"`
	MaxParallel   int     `toml:"max_parallel"`
	KeywordWeight float64 `toml:"keyword_weight"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Chunking: ChunkingConfig{
			ChildChunkSize:    800,
			ChildChunkOverlap: 100,
			ParentStrategy:    "page_group",
			PagesPerParent:    3,
		},
		Database: DatabaseConfig{Backend: "sqlite", Path: "finrag.db"},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			BaseURL:    "https://api.openai.com/v1",
			Dimensions: 1536,
		},
		Retrieval: RetrievalConfig{
			TopKChildren: 10,
			TopKParents:  3,
			MaxParallel:  4,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "finrag.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("FINRAG_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("FINRAG_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("FINRAG_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FINRAG_POSTGRES_URL"); v != "" {
		cfg.Database.Backend = "postgres"
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("FINRAG_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("FINRAG_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
