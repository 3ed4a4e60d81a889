package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderChromem, cfg.Index.Provider)
	assert.Equal(t, 256, cfg.Index.VectorSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.Equal(t, 2000, cfg.Engine.ContextTokens)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MEMBANK_INDEX_PROVIDER", "qdrant")
	t.Setenv("MEMBANK_QDRANT_HOST", "qdrant.internal")
	t.Setenv("MEMBANK_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderQdrant, cfg.Index.Provider)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	t.Setenv("MEMBANK_INDEX_PROVIDER", "pinecone")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_QdrantRequiresHost(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Index.Provider = ProviderQdrant
	cfg.Qdrant.Host = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_PortRange(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Index.Provider = ProviderQdrant
	cfg.Qdrant.Port = 70000
	assert.Error(t, cfg.Validate())
}
