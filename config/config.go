// Package config provides configuration loading for engramd.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config is the engramd configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Engine  EngineConfig  `koanf:"engine"`
	Memory  MemoryConfig  `koanf:"memory"`
	Store   StoreConfig   `koanf:"store"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// EngineConfig configures the completion engine.
type EngineConfig struct {
	Model     string `koanf:"model"`
	MaxTokens int64  `koanf:"max_tokens"`

	// Persona overrides the built-in system instruction when set.
	Persona string `koanf:"persona"`
}

// MemoryConfig holds the tunable retrieval parameters. These trade prompt
// size against recall breadth and are deliberately configuration, not
// constants.
type MemoryConfig struct {
	TopK          int            `koanf:"top_k"`
	MinSimilarity float32        `koanf:"min_similarity"`
	VectorSize    int            `koanf:"vector_size"`
	Embedder      EmbedderConfig `koanf:"embedder"`
}

// EmbedderConfig locates the ONNX model assets. Ignored by builds without
// the onnx tag, which fall back to the deterministic hash embedder.
type EmbedderConfig struct {
	ModelPath         string `koanf:"model_path"`
	TokenizerPath     string `koanf:"tokenizer_path"`
	SharedLibraryPath string `koanf:"shared_library_path"`
}

// StoreConfig configures the two persistence backends.
type StoreConfig struct {
	HistoryPath string      `koanf:"history_path"`
	Vector      VectorStore `koanf:"vector"`
}

// VectorStore selects and configures the vector backend.
type VectorStore struct {
	// Backend is "chromem" (embedded) or "qdrant" (remote).
	Backend string `koanf:"backend"`

	// Path is the chromem persistence directory; empty keeps it in memory.
	Path string `koanf:"path"`

	// Qdrant connection settings, used when Backend is "qdrant".
	QdrantHost       string `koanf:"qdrant_host"`
	QdrantPort       int    `koanf:"qdrant_port"`
	QdrantCollection string `koanf:"qdrant_collection"`
	QdrantTLS        bool   `koanf:"qdrant_tls"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "localhost", Port: 8080},
		Engine: EngineConfig{Model: "claude-sonnet-4-20250514", MaxTokens: 2048},
		Memory: MemoryConfig{TopK: 3, MinSimilarity: 0.7, VectorSize: 384},
		Store: StoreConfig{
			HistoryPath: "data/history.db",
			Vector:      VectorStore{Backend: "chromem", Path: "data/vectors"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from an optional YAML file, then overrides with
// ENGRAM_-prefixed environment variables.
//
// Precedence (highest first): environment, YAML file, defaults.
// Environment mapping splits on the first underscore after the prefix:
//
//	ENGRAM_SERVER_PORT          -> server.port
//	ENGRAM_MEMORY_MIN_SIMILARITY -> memory.min_similarity
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("ENGRAM_", ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, "ENGRAM_"))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Memory.TopK <= 0 {
		return fmt.Errorf("memory.top_k must be positive, got %d", c.Memory.TopK)
	}
	if c.Memory.MinSimilarity < 0 || c.Memory.MinSimilarity > 1 {
		return fmt.Errorf("memory.min_similarity must be in [0,1], got %v", c.Memory.MinSimilarity)
	}
	if c.Memory.VectorSize <= 0 {
		return fmt.Errorf("memory.vector_size must be positive, got %d", c.Memory.VectorSize)
	}
	switch c.Store.Vector.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("store.vector.backend must be chromem or qdrant, got %q", c.Store.Vector.Backend)
	}
	if c.Store.HistoryPath == "" {
		return fmt.Errorf("store.history_path is required")
	}
	return nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
