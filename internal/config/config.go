// Package config loads ai-change settings from defaults, an optional YAML
// file, a .env file and the environment (prefix AICHANGE_).
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/LEE-hyeon0771/AI-change-app/internal/embedding"
	"github.com/LEE-hyeon0771/AI-change-app/internal/fault"
)

const (
	EnvPrefix = "AICHANGE"

	DefaultDataDir  = "data"
	DefaultIndexDir = "faiss_index"
	DefaultLogFile  = "change_log.jsonl"
)

// Config is the root configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" yaml:"data_dir"`
	ChangeLog string          `mapstructure:"change_log" yaml:"change_log,omitempty"`
	IndexDir  string          `mapstructure:"index_dir" yaml:"index_dir,omitempty"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" yaml:"retrieval"`
	Index     IndexConfig     `mapstructure:"index" yaml:"index"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type EmbeddingConfig struct {
	Provider string        `mapstructure:"provider" yaml:"provider"`
	Model    string        `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"-"`
}

// MarshalYAML writes the timeout as a duration string ("30s").
func (e EmbeddingConfig) MarshalYAML() (any, error) {
	type plain EmbeddingConfig
	return struct {
		plain   `yaml:",inline"`
		Timeout string `yaml:"timeout"`
	}{plain(e), e.Timeout.String()}, nil
}

type RetrievalConfig struct {
	TopK int `mapstructure:"top_k" yaml:"top_k"`
}

type IndexConfig struct {
	// RebuildOnBootstrap re-embeds the change log when the index directory
	// had to be created from scratch.
	RebuildOnBootstrap bool `mapstructure:"rebuild_on_bootstrap" yaml:"rebuild_on_bootstrap"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

var defaults = map[string]any{
	"data_dir":                   DefaultDataDir,
	"change_log":                 "",
	"index_dir":                  "",
	"embedding.provider":         "openai",
	"embedding.model":            "",
	"embedding.base_url":         "",
	"embedding.api_key":          "",
	"embedding.timeout":          "30s",
	"retrieval.top_k":            5,
	"index.rebuild_on_bootstrap": true,
	"log.level":                  "info",
	"log.format":                 "text",
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg := &Config{
		DataDir:   DefaultDataDir,
		Embedding: EmbeddingConfig{Provider: "openai", Timeout: 30 * time.Second},
		Retrieval: RetrievalConfig{TopK: 5},
		Index:     IndexConfig{RebuildOnBootstrap: true},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
	cfg.resolve()
	return cfg
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored and set variables are kept.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fault.Wrap(err, fault.CodeConfig, "load env file", fault.FieldPath(p))
		}
	}
	return nil
}

// Load reads configuration from path (optional) with environment overrides.
// OPENAI_API_KEY is honoured for embedding.api_key.
func Load(path string) (*Config, error) {
	v := viper.New()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("embedding.api_key", EnvPrefix+"_EMBEDDING_API_KEY", "OPENAI_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fault.Wrap(err, fault.CodeConfig, "read config file", fault.FieldPath(path))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fault.Wrap(err, fault.CodeConfig, "unmarshal config")
	}
	cfg.resolve()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fault.Wrap(errors.Join(errs...), fault.CodeConfig, "validate config")
	}
	return &cfg, nil
}

// resolve fills paths derived from the data directory.
func (c *Config) resolve() {
	if c.ChangeLog == "" {
		c.ChangeLog = filepath.Join(c.DataDir, DefaultLogFile)
	}
	if c.IndexDir == "" {
		c.IndexDir = filepath.Join(c.DataDir, DefaultIndexDir)
	}
	if c.Embedding.Model == "" {
		switch strings.ToLower(c.Embedding.Provider) {
		case "ollama":
			c.Embedding.Model = embedding.DefaultOllamaModel
		default:
			c.Embedding.Model = embedding.DefaultOpenAIModel
		}
	}
}

// WithDataDir moves every derived path under dir. Explicitly configured
// paths outside the old data directory are kept.
func (c *Config) WithDataDir(dir string) {
	old := c.DataDir
	c.DataDir = dir
	if c.ChangeLog == filepath.Join(old, DefaultLogFile) {
		c.ChangeLog = ""
	}
	if c.IndexDir == filepath.Join(old, DefaultIndexDir) {
		c.IndexDir = ""
	}
	c.resolve()
}

// Validate collects every configuration problem instead of stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, fault.Errorf(fault.CodeConfig, "config: data_dir must not be empty"))
	}
	providers := []string{"openai", "ollama"}
	if !slices.Contains(providers, strings.ToLower(c.Embedding.Provider)) {
		errs = append(errs, fault.Errorf(fault.CodeConfig,
			"config: embedding.provider must be one of [openai, ollama], got %q", c.Embedding.Provider))
	}
	if c.Embedding.Timeout <= 0 {
		errs = append(errs, fault.Errorf(fault.CodeConfig, "config: embedding.timeout must be positive, got %s", c.Embedding.Timeout))
	}
	if c.Retrieval.TopK < 1 {
		errs = append(errs, fault.Errorf(fault.CodeConfig, "config: retrieval.top_k must be at least 1, got %d", c.Retrieval.TopK))
	}
	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fault.Errorf(fault.CodeConfig,
			"config: log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fault.Errorf(fault.CodeConfig, "config: log.format must be text or json, got %q", c.Log.Format))
	}

	return errs
}

// EmbedderConfig converts the embedding section for the embedding package.
func (c *Config) EmbedderConfig() embedding.Config {
	return embedding.Config{
		Provider: c.Embedding.Provider,
		Model:    c.Embedding.Model,
		BaseURL:  c.Embedding.BaseURL,
		APIKey:   c.Embedding.APIKey,
		Timeout:  c.Embedding.Timeout,
	}
}

// Save writes cfg to path as YAML, creating directories as needed. The API
// key is never written.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fault.Wrap(err, fault.CodeStorage, "create config dir", fault.FieldPath(path))
	}
	out := *cfg
	out.Embedding.APIKey = ""
	// derived paths follow data_dir when the file is loaded again
	if out.ChangeLog == filepath.Join(out.DataDir, DefaultLogFile) {
		out.ChangeLog = ""
	}
	if out.IndexDir == filepath.Join(out.DataDir, DefaultIndexDir) {
		out.IndexDir = ""
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fault.Wrap(err, fault.CodeConfig, "encode config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fault.Wrap(err, fault.CodeStorage, "write config", fault.FieldPath(path))
	}
	return nil
}
