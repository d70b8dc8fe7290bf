package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home)
	require.NoError(t, err)

	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, 0.8, cfg.Conflict.DuplicateThreshold)
	assert.Equal(t, 3, cfg.Retrieval.MaxGraphDepth)
	assert.Equal(t, 3, cfg.Graph.RecurringThreshold)
	assert.Equal(t, filepath.Join(home, "graph.json"), cfg.GraphPath())
	assert.Equal(t, filepath.Join(home, "sources", "decisions.jsonl"), cfg.SourcePath("decision"))
}

func TestLoad_FileOverrides(t *testing.T) {
	home := t.TempDir()
	yml := `
conflict:
  duplicate_threshold: 0.9
  min_words: 6
reinforce:
  half_life: 48h
sources:
  decision: /var/log/decisions.jsonl
`
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte(yml), 0o644))

	cfg, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Conflict.DuplicateThreshold)
	assert.Equal(t, 6, cfg.Conflict.MinWords)
	assert.Equal(t, 48*time.Hour, cfg.Reinforce.HalfLife)
	// untouched values keep their defaults
	assert.Equal(t, 50, cfg.Conflict.RecentWindow)
	assert.Equal(t, "/var/log/decisions.jsonl", cfg.SourcePath("decision"))
	assert.Equal(t, filepath.Join(home, "sources", "goals.jsonl"), cfg.SourcePath("goal"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("LORE_LOG_LEVEL", "debug")
	t.Setenv("LORE_EMBED", "true")
	t.Setenv("LORE_EMBED_URL", "http://localhost:11434/v1")

	cfg, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Index.Embed.Enabled)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Index.Embed.BaseURL)
}

func TestLoad_InvalidFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte("conflict: [unclosed"), 0o644))
	_, err := Load(home)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"threshold zero", func(c *Config) { c.Conflict.DuplicateThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.Conflict.DuplicateThreshold = 1.5 }},
		{"negative depth", func(c *Config) { c.Retrieval.MaxGraphDepth = -1 }},
		{"decay one", func(c *Config) { c.Retrieval.GraphDecay = 1 }},
		{"recurring zero", func(c *Config) { c.Graph.RecurringThreshold = 0 }},
		{"no home", func(c *Config) { c.Home = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("/tmp/lore")
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default("/tmp/lore").Validate())
}

func TestWrite_RoundTrip(t *testing.T) {
	home := t.TempDir()
	cfg := Default(home)
	cfg.Retrieval.DefaultLimit = 25
	require.NoError(t, cfg.Write())

	loaded, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, 25, loaded.Retrieval.DefaultLimit)
	assert.Equal(t, cfg.Reinforce.HalfLife, loaded.Reinforce.HalfLife)
}
