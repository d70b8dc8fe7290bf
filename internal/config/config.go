// Package config loads lore configuration from defaults, the home
// directory's config.yaml, an optional .env file and LORE_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up inside the home directory.
const FileName = "config.yaml"

// Config holds all configuration
type Config struct {
	// Home is the data directory; every relative path below resolves against it.
	Home string `yaml:"-"`

	SourcesDir string            `yaml:"sources_dir"`
	Sources    map[string]string `yaml:"sources,omitempty"`

	Graph     GraphConfig     `yaml:"graph"`
	Index     IndexConfig     `yaml:"index"`
	Reinforce ReinforceConfig `yaml:"reinforce"`
	Conflict  ConflictConfig  `yaml:"conflict"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
}

type GraphConfig struct {
	Path               string `yaml:"path"`
	RecurringThreshold int    `yaml:"recurring_threshold"`
}

type IndexConfig struct {
	Path       string      `yaml:"path"`
	VectorPath string      `yaml:"vector_path"`
	Embed      EmbedConfig `yaml:"embed"`
}

// EmbedConfig configures the optional embedding generator. Any
// OpenAI-compatible endpoint works (OpenAI, Ollama, llama.cpp server).
type EmbedConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"-"`
	Model       string `yaml:"model"`
	Concurrency int    `yaml:"concurrency"`
}

type ReinforceConfig struct {
	Path     string        `yaml:"path"`
	HalfLife time.Duration `yaml:"half_life"`
	Window   time.Duration `yaml:"window"`
	Weight   float64       `yaml:"weight"`
}

type ConflictConfig struct {
	DuplicateThreshold     float64 `yaml:"duplicate_threshold"`
	MinWords               int     `yaml:"min_words"`
	RecentWindow           int     `yaml:"recent_window"`
	ContradictionThreshold float64 `yaml:"contradiction_threshold"`
}

type RetrievalConfig struct {
	DefaultLimit      int     `yaml:"default_limit"`
	MaxGraphDepth     int     `yaml:"max_graph_depth"`
	GraphDecay        float64 `yaml:"graph_decay"`
	BackgroundRefresh bool    `yaml:"background_refresh"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration for the given home directory.
func Default(home string) *Config {
	return &Config{
		Home:       home,
		SourcesDir: "sources",
		Graph: GraphConfig{
			Path:               "graph.json",
			RecurringThreshold: 3,
		},
		Index: IndexConfig{
			Path:       "index.db",
			VectorPath: "vectors",
			Embed: EmbedConfig{
				Model:       "text-embedding-3-small",
				Concurrency: 4,
			},
		},
		Reinforce: ReinforceConfig{
			Path:     "access",
			HalfLife: 14 * 24 * time.Hour,
			Window:   90 * 24 * time.Hour,
			Weight:   0.25,
		},
		Conflict: ConflictConfig{
			DuplicateThreshold:     0.8,
			MinWords:               4,
			RecentWindow:           50,
			ContradictionThreshold: 0.3,
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:      10,
			MaxGraphDepth:     3,
			GraphDecay:        0.5,
			BackgroundRefresh: true,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},
	}
}

// Load reads configuration for the given home directory.
func Load(home string) (*Config, error) {
	cfg := Default(home)

	data, err := os.ReadFile(filepath.Join(home, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}
	cfg.Home = home

	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("LORE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LORE_LOG_FORMAT", c.Log.Format)
	c.Index.Embed.BaseURL = getEnv("LORE_EMBED_URL", c.Index.Embed.BaseURL)
	c.Index.Embed.Model = getEnv("LORE_EMBED_MODEL", c.Index.Embed.Model)
	c.Index.Embed.APIKey = getEnv("LORE_EMBED_API_KEY", getEnv("OPENAI_API_KEY", c.Index.Embed.APIKey))
	c.Index.Embed.Enabled = getEnvBool("LORE_EMBED", c.Index.Embed.Enabled)
	c.Retrieval.BackgroundRefresh = getEnvBool("LORE_BACKGROUND_REFRESH", c.Retrieval.BackgroundRefresh)
	c.Server.Addr = getEnv("LORE_ADDR", c.Server.Addr)
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if c.Home == "" {
		return errors.New("home directory is required")
	}
	if c.Conflict.DuplicateThreshold <= 0 || c.Conflict.DuplicateThreshold > 1 {
		return fmt.Errorf("conflict.duplicate_threshold must be in (0, 1], got %v", c.Conflict.DuplicateThreshold)
	}
	if c.Conflict.ContradictionThreshold < 0 || c.Conflict.ContradictionThreshold > 1 {
		return fmt.Errorf("conflict.contradiction_threshold must be in [0, 1], got %v", c.Conflict.ContradictionThreshold)
	}
	if c.Conflict.RecentWindow <= 0 {
		return fmt.Errorf("conflict.recent_window must be positive, got %d", c.Conflict.RecentWindow)
	}
	if c.Graph.RecurringThreshold < 1 {
		return fmt.Errorf("graph.recurring_threshold must be >= 1, got %d", c.Graph.RecurringThreshold)
	}
	if c.Retrieval.MaxGraphDepth < 0 {
		return fmt.Errorf("retrieval.max_graph_depth must be >= 0, got %d", c.Retrieval.MaxGraphDepth)
	}
	if c.Retrieval.GraphDecay <= 0 || c.Retrieval.GraphDecay >= 1 {
		return fmt.Errorf("retrieval.graph_decay must be in (0, 1), got %v", c.Retrieval.GraphDecay)
	}
	if c.Reinforce.HalfLife <= 0 {
		return fmt.Errorf("reinforce.half_life must be positive")
	}
	return nil
}

// Resolve turns a configured path into an absolute one under Home.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Home, p)
}

func (c *Config) GraphPath() string  { return c.Resolve(c.Graph.Path) }
func (c *Config) IndexPath() string  { return c.Resolve(c.Index.Path) }
func (c *Config) VectorPath() string { return c.Resolve(c.Index.VectorPath) }
func (c *Config) AccessPath() string { return c.Resolve(c.Reinforce.Path) }

// SourcePath returns the log file for a record kind. Per-kind overrides in
// Sources win over the default "<sources_dir>/<kind>s.jsonl".
func (c *Config) SourcePath(kind string) string {
	if p, ok := c.Sources[kind]; ok && p != "" {
		return c.Resolve(p)
	}
	return filepath.Join(c.Resolve(c.SourcesDir), kind+"s.jsonl")
}

// Write saves the configuration to Home/config.yaml.
func (c *Config) Write() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.Home, FileName), data, 0o644)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
