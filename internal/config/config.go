// Package config loads engine configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the memory engine. Zero values are
// replaced by defaults in Load.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`

	Ingest    IngestConfig    `yaml:"ingest"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Retention RetentionConfig `yaml:"retention"`
	Persona   PersonaConfig   `yaml:"persona"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// IngestConfig bounds the write path.
type IngestConfig struct {
	// MaxArtifactBytes is the per-artifact size ceiling.
	MaxArtifactBytes int `yaml:"max_artifact_bytes"`
	// EmbedConcurrency caps parallel embedding calls per batch.
	EmbedConcurrency int `yaml:"embed_concurrency"`
	// SessionRetention is how long completed sessions survive before GC.
	SessionRetention time.Duration `yaml:"session_retention"`
}

// ChunkerConfig bounds chunk sizes in token-equivalent units.
type ChunkerConfig struct {
	MinTokens int `yaml:"min_tokens"`
	MaxTokens int `yaml:"max_tokens"`
}

// EmbeddingConfig selects and sizes the embedding provider.
type EmbeddingConfig struct {
	// Provider: "openai", "ollama", or "mock".
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`

	// Retry policy for the external call.
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// SearchConfig tunes hybrid ranking.
type SearchConfig struct {
	// DenseWeight + SparseWeight combine cosine similarity and keyword
	// overlap into one rank. Defaults 0.7/0.3, pending product
	// validation.
	DenseWeight  float64 `yaml:"dense_weight"`
	SparseWeight float64 `yaml:"sparse_weight"`
	// ReadRetries bounds retry attempts on transient storage reads.
	ReadRetries int `yaml:"read_retries"`
}

// RetentionConfig controls the periodic sweep.
type RetentionConfig struct {
	// ShortTermTTL expires short_term chunks. mid_term and long_term
	// are exempt unless explicitly deleted.
	ShortTermTTL time.Duration `yaml:"short_term_ttl"`
	// SweepSchedule is a cron expression for the background sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// PersonaConfig sets profile state-machine thresholds.
type PersonaConfig struct {
	// SeedThreshold chunks move EMPTY -> SEEDED; EnhanceThreshold plus
	// type diversity moves SEEDED -> ENHANCED.
	SeedThreshold    int `yaml:"seed_threshold"`
	EnhanceThreshold int `yaml:"enhance_threshold"`
	// MinTypeDiversity is the minimum distinct memory_type count
	// required for ENHANCED.
	MinTypeDiversity int `yaml:"min_type_diversity"`
	// BlendAlpha weights new evidence in incremental updates.
	BlendAlpha float64 `yaml:"blend_alpha"`
}

// RetrievalConfig tunes context assembly.
type RetrievalConfig struct {
	// EmotionalBoost multiplies the hybrid score of emotional chunks.
	EmotionalBoost float64 `yaml:"emotional_boost"`
	// PersonaReserveFraction of the token budget is always held back
	// for the persona directive; PersonaReserveMin is its floor.
	PersonaReserveFraction float64 `yaml:"persona_reserve_fraction"`
	PersonaReserveMin      int     `yaml:"persona_reserve_min"`
	// SearchK is the candidate pool size requested from the store.
	SearchK int `yaml:"search_k"`
	// CacheSize bounds the query-embedding cache (entries).
	CacheSize int64 `yaml:"cache_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DBPath: filepath.Join(home, ".memoryengine", "memory.db"),
		Ingest: IngestConfig{
			MaxArtifactBytes: 50 * 1024 * 1024,
			EmbedConcurrency: 4,
			SessionRetention: 30 * 24 * time.Hour,
		},
		Chunker: ChunkerConfig{
			MinTokens: 500,
			MaxTokens: 1500,
		},
		Embedding: EmbeddingConfig{
			Provider:       "mock",
			Model:          "nomic-embed-text",
			Dimension:      384,
			MaxAttempts:    3,
			BackoffBase:    200 * time.Millisecond,
			AttemptTimeout: 30 * time.Second,
		},
		Search: SearchConfig{
			DenseWeight:  0.7,
			SparseWeight: 0.3,
			ReadRetries:  3,
		},
		Retention: RetentionConfig{
			ShortTermTTL:  30 * 24 * time.Hour,
			SweepSchedule: "@hourly",
		},
		Persona: PersonaConfig{
			SeedThreshold:    5,
			EnhanceThreshold: 25,
			MinTypeDiversity: 2,
			BlendAlpha:       0.3,
		},
		Retrieval: RetrievalConfig{
			EmotionalBoost:         1.2,
			PersonaReserveFraction: 0.25,
			PersonaReserveMin:      200,
			SearchK:                40,
			CacheSize:              4096,
		},
	}
}

// Load reads the YAML file at path (if it exists), layers it over the
// defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MEMORY_ENGINE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MEMORY_ENGINE_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("MEMORY_ENGINE_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("MEMORY_ENGINE_EMBED_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MEMORY_ENGINE_EMBED_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Dimension = n
		}
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("config: embedding dimension must be positive")
	}
	if c.Chunker.MinTokens <= 0 || c.Chunker.MaxTokens < c.Chunker.MinTokens {
		return fmt.Errorf("config: invalid chunk token range [%d, %d]", c.Chunker.MinTokens, c.Chunker.MaxTokens)
	}
	if c.Search.DenseWeight < 0 || c.Search.SparseWeight < 0 {
		return fmt.Errorf("config: search weights must be non-negative")
	}
	if c.Search.DenseWeight+c.Search.SparseWeight == 0 {
		return fmt.Errorf("config: at least one search weight must be positive")
	}
	if c.Retrieval.EmotionalBoost < 1 {
		return fmt.Errorf("config: emotional boost must be >= 1")
	}
	if c.Persona.BlendAlpha <= 0 || c.Persona.BlendAlpha > 1 {
		return fmt.Errorf("config: blend alpha must be in (0, 1]")
	}
	return nil
}
