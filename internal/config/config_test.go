package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "tfidf", cfg.Embedder.Type)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "chat_history.txt", cfg.History.ExportPath)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OpenAIDefaults(t *testing.T) {
	path := writeConfig(t, `
embedder:
  type: openai
  openai:
    model: nomic-embed-text
    base_url: http://localhost:11434/v1
retrieval:
  top_k: 5
log:
  format: json
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, 30, cfg.Embedder.OpenAI.TimeoutSecs)
	assert.Equal(t, 32, cfg.Embedder.OpenAI.BatchSize)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown embedder": "embedder:\n  type: word2vec\n",
		"openai without block": "embedder:\n  type: openai\n",
		"negative top k":       "retrieval:\n  top_k: -1\n",
		"bad level":            "log:\n  level: shouty\n",
		"bad format":           "log:\n  format: xml\n",
		"bad summarizer":       "summarizer:\n  type: llm\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}

	_, err := Load(writeConfig(t, "embedder: [unterminated"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidConfig))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Retrieval.TopK = 7
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadDefault_WritesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "ragchat", "config.yaml"), path)
	assert.Equal(t, Default(), cfg)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
