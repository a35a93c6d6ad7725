// Package config loads the process-wide configuration tree from YAML,
// applying defaults and environment-variable overrides for secrets the
// way the teacher's pkg/config does.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kpekel-labs/scholarag/internal/answer"
	"github.com/kpekel-labs/scholarag/internal/chunking"
	"github.com/kpekel-labs/scholarag/internal/ingest"
	"github.com/kpekel-labs/scholarag/internal/sessionrag"
	"github.com/kpekel-labs/scholarag/internal/sparse"
	"github.com/kpekel-labs/scholarag/internal/vectorstore"
	"github.com/kpekel-labs/scholarag/pkg/embedding"
	"github.com/kpekel-labs/scholarag/pkg/externalregistry"
	"github.com/kpekel-labs/scholarag/pkg/llmprovider"
)

// LoggerConfig configures process-wide logging. Mirrors the teacher's
// pkg/config/logger.go.
//
// Example:
//
//	logger:
//	  level: info
//	  format: simple
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty"`
	File   string `yaml:"file,omitempty"`
	Format string `yaml:"format,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggerConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if c.Level != "" && !validLevels[c.Level] {
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
	}
	return nil
}

// vectorStoreSetDefaults fills unset fields, including the Pinecone API
// key's environment-variable fallback, on top of vectorstore.Config's
// own numeric defaults.
func vectorStoreSetDefaults(c *vectorstore.Config) {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("PINECONE_API_KEY")
	}
	c.SetDefaults()
}

func vectorStoreValidate(c vectorstore.Config) error {
	if c.IndexName == "" {
		return fmt.Errorf("vector_store.index_name is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("vector_store.api_key is required (set directly or via PINECONE_API_KEY)")
	}
	return nil
}

// ServerConfig configures the thin HTTP transport exposing in-scope
// operations.
//
// Example:
//
//	server:
//	  listen_address: ":8080"
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address,omitempty"`
	MetricsPath   string `yaml:"metrics_path,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":8080"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
}

func (c *ServerConfig) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	return nil
}

// SparseConfig carries the BM25 tunables through YAML.
//
// Example:
//
//	sparse:
//	  k1: 1.5
//	  b: 0.75
type SparseConfig struct {
	K1 float64 `yaml:"k1,omitempty"`
	B  float64 `yaml:"b,omitempty"`
}

func (c *SparseConfig) SetDefaults() {
	d := sparse.DefaultParameters()
	if c.K1 == 0 {
		c.K1 = d.K1
	}
	if c.B == 0 {
		c.B = d.B
	}
}

func (c *SparseConfig) Validate() error {
	if c.K1 < 0 {
		return fmt.Errorf("sparse.k1 must be non-negative")
	}
	if c.B < 0 || c.B > 1 {
		return fmt.Errorf("sparse.b must be between 0 and 1")
	}
	return nil
}

func (c SparseConfig) Parameters() sparse.Parameters {
	return sparse.Parameters{K1: c.K1, B: c.B}
}

// RerankConfig selects and tunes the reranker implementation.
//
// Example:
//
//	rerank:
//	  provider: llm
type RerankConfig struct {
	Provider string `yaml:"provider,omitempty"` // "llm", "cohere", or "noop"

	// CohereAPIKey, CohereBaseURL, and CohereModel configure the
	// provider="cohere" case, which calls Cohere's dedicated /rerank
	// endpoint instead of prompting a generation model.
	CohereAPIKey  string `yaml:"cohere_api_key,omitempty"`
	CohereBaseURL string `yaml:"cohere_base_url,omitempty"`
	CohereModel   string `yaml:"cohere_model,omitempty"`
}

func (c *RerankConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "llm"
	}
	if c.Provider == "cohere" && c.CohereAPIKey == "" {
		c.CohereAPIKey = os.Getenv("COHERE_API_KEY")
	}
}

func (c *RerankConfig) Validate() error {
	switch c.Provider {
	case "llm", "noop":
	case "cohere":
		if c.CohereAPIKey == "" {
			return fmt.Errorf("rerank.cohere_api_key is required when rerank.provider is \"cohere\" (set directly or via COHERE_API_KEY)")
		}
	default:
		return fmt.Errorf("rerank.provider must be \"llm\", \"cohere\", or \"noop\", got %q", c.Provider)
	}
	return nil
}

// Config is the root configuration tree, loaded from a single YAML
// document and distributed to each component's constructor.
type Config struct {
	Logger           LoggerConfig            `yaml:"logger,omitempty"`
	Server           ServerConfig            `yaml:"server,omitempty"`
	Chunking         chunking.Config         `yaml:"chunking,omitempty"`
	Embedding        embedding.Config        `yaml:"embedding,omitempty"`
	Sparse           SparseConfig            `yaml:"sparse,omitempty"`
	VectorStore      vectorstore.Config      `yaml:"vector_store,omitempty"`
	Ingest           ingest.Config           `yaml:"ingest,omitempty"`
	Rerank           RerankConfig            `yaml:"rerank,omitempty"`
	LLM              llmprovider.Config      `yaml:"llm,omitempty"`
	Answer           answer.Config           `yaml:"answer,omitempty"`
	ExternalRegistry externalregistry.Config `yaml:"external_registry,omitempty"`
	SessionRAG       sessionrag.Config       `yaml:"session_rag,omitempty"`
}

// LoadDotEnv loads .env.local then .env from the working directory
// into the process environment, the same precedence order as the
// teacher's pkg/config.LoadEnvFiles. A missing file is not an error;
// dev-only credential loading is expected to be absent in production.
func LoadDotEnv() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return nil
}

// Load reads and parses a YAML config file at path, then applies
// SetDefaults across every sub-struct. Missing files are not an error —
// Load returns a defaulted Config the same way the teacher's zero-config
// path does, so the process can run from environment variables alone.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				cfg.SetDefaults()
				return cfg, nil
			}
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.SetDefaults()
	return cfg, nil
}

// SetDefaults fills every sub-struct's zero-valued fields, including the
// embedding/LLM API-key environment-variable fallbacks the teacher's
// config.GetProviderAPIKey performs.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.Server.SetDefaults()
	c.Chunking.SetDefaults()
	c.Sparse.SetDefaults()
	vectorStoreSetDefaults(&c.VectorStore)
	c.Ingest.SetDefaults()
	c.Rerank.SetDefaults()
	c.Answer.SetDefaults()

	if c.Embedding.APIKey == "" {
		switch c.Embedding.Type {
		case "openai":
			c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		case "cohere", "":
			c.Embedding.APIKey = os.Getenv("COHERE_API_KEY")
		}
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("GROQ_API_KEY")
	}
	if c.ExternalRegistry.BaseURL == "" {
		c.ExternalRegistry.BaseURL = os.Getenv("EXTERNAL_REGISTRY_URL")
	}
	if c.ExternalRegistry.ServiceHeader == "" {
		c.ExternalRegistry.ServiceHeader = os.Getenv("EXTERNAL_REGISTRY_SERVICE_HEADER")
	}
	c.SessionRAG.SetDefaults()
}

// Validate checks every sub-struct, returning the first error
// encountered.
func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Chunking.Validate(); err != nil {
		return err
	}
	if err := c.Sparse.Validate(); err != nil {
		return err
	}
	if err := vectorStoreValidate(c.VectorStore); err != nil {
		return err
	}
	if err := c.Rerank.Validate(); err != nil {
		return err
	}
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key is required (set directly or via OPENAI_API_KEY/COHERE_API_KEY)")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set directly or via GROQ_API_KEY)")
	}
	return nil
}
