package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaultedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, ":8080", cfg.Server.ListenAddress)
	assert.Equal(t, 1.5, cfg.Sparse.K1)
}

func TestLoad_ParsesYAMLAndAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
logger:
  level: debug
vector_store:
  index_name: scholarag-test
  api_key: test-key
server:
  listen_address: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "scholarag-test", cfg.VectorStore.IndexName)
	assert.Equal(t, ":9090", cfg.Server.ListenAddress)
	assert.Equal(t, "simple", cfg.Logger.Format, "unset fields still get defaults after parsing")
}

func TestSetDefaults_FallsBackToEnvVarsForAPIKeys(t *testing.T) {
	t.Setenv("COHERE_API_KEY", "env-cohere-key")
	t.Setenv("GROQ_API_KEY", "env-groq-key")
	t.Setenv("PINECONE_API_KEY", "env-pinecone-key")

	var cfg Config
	cfg.VectorStore.IndexName = "scholarag"
	cfg.SetDefaults()

	assert.Equal(t, "env-cohere-key", cfg.Embedding.APIKey)
	assert.Equal(t, "env-groq-key", cfg.LLM.APIKey)
	assert.Equal(t, "env-pinecone-key", cfg.VectorStore.APIKey)
}

func TestSetDefaults_ExplicitAPIKeyWinsOverEnvVar(t *testing.T) {
	t.Setenv("COHERE_API_KEY", "env-cohere-key")

	var cfg Config
	cfg.Embedding.APIKey = "explicit-key"
	cfg.SetDefaults()

	assert.Equal(t, "explicit-key", cfg.Embedding.APIKey)
}

func TestValidate_RejectsMissingVectorStoreIndexName(t *testing.T) {
	var cfg Config
	cfg.Embedding.APIKey = "k"
	cfg.LLM.APIKey = "k"
	cfg.VectorStore.APIKey = "k"
	cfg.SetDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index_name")
}

func TestValidate_RejectsInvalidLogLevel(t *testing.T) {
	var cfg Config
	cfg.Logger.Level = "verbose-ish"
	cfg.VectorStore.IndexName = "x"
	cfg.VectorStore.APIKey = "k"
	cfg.Embedding.APIKey = "k"
	cfg.LLM.APIKey = "k"
	cfg.SetDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestValidate_PassesWithAllRequiredFieldsSet(t *testing.T) {
	var cfg Config
	cfg.VectorStore.IndexName = "scholarag"
	cfg.VectorStore.APIKey = "pinecone-key"
	cfg.Embedding.APIKey = "embed-key"
	cfg.LLM.APIKey = "llm-key"
	cfg.SetDefaults()

	assert.NoError(t, cfg.Validate())
}

func TestLoadDotEnv_MissingFilesAreNotAnError(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	assert.NoError(t, LoadDotEnv())
}

func TestLoadDotEnv_LoadsVariablesFromDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	require.NoError(t, os.WriteFile(".env", []byte("SCHOLARAG_TEST_VAR=from-dotenv\n"), 0o644))
	defer os.Unsetenv("SCHOLARAG_TEST_VAR")

	require.NoError(t, LoadDotEnv())
	assert.Equal(t, "from-dotenv", os.Getenv("SCHOLARAG_TEST_VAR"))
}

func TestRerankConfig_CohereProviderFallsBackToEnvVar(t *testing.T) {
	t.Setenv("COHERE_API_KEY", "env-cohere-rerank-key")

	c := RerankConfig{Provider: "cohere"}
	c.SetDefaults()

	assert.Equal(t, "env-cohere-rerank-key", c.CohereAPIKey)
	require.NoError(t, c.Validate())
}

func TestRerankConfig_CohereProviderRequiresAPIKey(t *testing.T) {
	c := RerankConfig{Provider: "cohere"}
	c.SetDefaults()

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cohere_api_key")
}

func TestRerankConfig_UnknownProviderRejected(t *testing.T) {
	c := RerankConfig{Provider: "unknown-provider"}

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown-provider")
}

func TestSparseConfig_ParametersRoundTrip(t *testing.T) {
	c := SparseConfig{K1: 2.0, B: 0.5}
	params := c.Parameters()
	assert.Equal(t, 2.0, params.K1)
	assert.Equal(t, 0.5, params.B)
}
