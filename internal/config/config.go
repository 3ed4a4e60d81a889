// Package config loads membank configuration.
//
// Configuration is layered: embedded YAML defaults first, then environment
// variables with the MEMBANK_ prefix. MEMBANK_INDEX_PROVIDER=qdrant maps to
// the key "index.provider".
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/crewforge/membank/internal/logging"
)

// Index providers.
const (
	ProviderChromem = "chromem"
	ProviderQdrant  = "qdrant"
)

var errInvalidConfig = errors.New("invalid configuration")

// defaultYAML holds the built-in defaults. Every key here can be overridden
// through the environment.
const defaultYAML = `
log:
  level: info
  format: json
index:
  provider: chromem
  path: ""
  vectorsize: 256
qdrant:
  host: localhost
  port: 6334
  apikey: ""
  usetls: false
embeddings:
  baseurl: https://api.openai.com/v1
  apikey: ""
  model: text-embedding-3-small
llm:
  apikey: ""
  model: claude-sonnet-4-20250514
  maxtokens: 1024
engine:
  contexttokens: 2000
  shutdowntimeout: 10s
`

// Config is the full daemon configuration.
type Config struct {
	Log        logging.Config   `koanf:"log"`
	Index      IndexConfig      `koanf:"index"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	LLM        LLMConfig        `koanf:"llm"`
	Engine     EngineConfig     `koanf:"engine"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	// Provider is "chromem" (embedded) or "qdrant" (external gRPC).
	Provider string `koanf:"provider"`

	// Path is the chromem persistence directory. Empty means in-memory.
	Path string `koanf:"path"`

	// VectorSize must match the embedding provider's output dimension.
	VectorSize int `koanf:"vectorsize"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey string `koanf:"apikey"`
	UseTLS bool   `koanf:"usetls"`
}

// EmbeddingsConfig configures the OpenAI-compatible embedding endpoint.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"baseurl"`
	APIKey  string `koanf:"apikey"`
	Model   string `koanf:"model"`
}

// LLMConfig configures the Anthropic completion client.
type LLMConfig struct {
	APIKey    string `koanf:"apikey"`
	Model     string `koanf:"model"`
	MaxTokens int    `koanf:"maxtokens"`
}

// EngineConfig holds daemon-level engine settings.
type EngineConfig struct {
	// ContextTokens is the total token budget for injected context.
	ContextTokens int `koanf:"contexttokens"`

	// ShutdownTimeout bounds graceful shutdown of the scheduler.
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout"`
}

// Load builds a Config from defaults and MEMBANK_* environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	err := k.Load(env.Provider("MEMBANK_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "MEMBANK_")), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return err
	}
	switch c.Index.Provider {
	case ProviderChromem, ProviderQdrant:
	default:
		return fmt.Errorf("%w: unknown index provider %q", errInvalidConfig, c.Index.Provider)
	}
	if c.Index.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", errInvalidConfig)
	}
	if c.Index.Provider == ProviderQdrant {
		if c.Qdrant.Host == "" {
			return fmt.Errorf("%w: qdrant host is required", errInvalidConfig)
		}
		if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("%w: qdrant port out of range", errInvalidConfig)
		}
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("%w: llm max tokens must be positive", errInvalidConfig)
	}
	if c.Engine.ContextTokens <= 0 {
		return fmt.Errorf("%w: context token budget must be positive", errInvalidConfig)
	}
	return nil
}
