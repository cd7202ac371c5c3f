package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for netbot.
// It is loaded from ~/.netbot/config.yaml and can be overridden by environment variables.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Router    RouterConfig    `mapstructure:"router" yaml:"router"`
	Tools     ToolsConfig     `mapstructure:"tools" yaml:"tools"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" yaml:"retrieval"`
	Composer  ComposerConfig  `mapstructure:"composer" yaml:"composer"`
	Data      DataConfig      `mapstructure:"data" yaml:"data"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Personas  PersonasConfig  `mapstructure:"personas" yaml:"personas"`
}

// LLMConfig contains configuration for Language Model providers.
type LLMConfig struct {
	// DefaultProvider is used by every role that does not name its own provider.
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`
	// Providers maps provider names to their specific configuration
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	// Roles binds each model role to a provider and model.
	Roles RolesConfig `mapstructure:"roles" yaml:"roles"`
}

// ProviderConfig contains configuration for a specific LLM provider.
type ProviderConfig struct {
	// Endpoint is the API endpoint URL (primarily used for local providers like Ollama)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// APIKey is the authentication key for the provider
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the specific model to use with this provider
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// Timeouts contains timeout configuration (primarily for Ollama)
	Timeouts *TimeoutConfig `mapstructure:"timeouts" yaml:"timeouts,omitempty"`
}

// TimeoutConfig contains timeout settings for LLM providers.
type TimeoutConfig struct {
	ConnectionTimeoutSec int  `mapstructure:"connection_timeout_sec" yaml:"connection_timeout_sec,omitempty"`
	FirstTokenTimeoutSec int  `mapstructure:"first_token_timeout_sec" yaml:"first_token_timeout_sec,omitempty"`
	StreamIdleTimeoutSec int  `mapstructure:"stream_idle_timeout_sec" yaml:"stream_idle_timeout_sec,omitempty"`
	WarmupOnStart        bool `mapstructure:"warmup_on_start" yaml:"warmup_on_start,omitempty"`
}

// RolesConfig names the backend used for each job a model does.
type RolesConfig struct {
	// Generator writes the persona-styled answer.
	Generator RoleConfig `mapstructure:"generator" yaml:"generator"`
	// Router produces the JSON routing decision.
	Router RoleConfig `mapstructure:"router" yaml:"router"`
	// Classifier is the small tool-calling model of the classifier strategy.
	Classifier RoleConfig `mapstructure:"classifier" yaml:"classifier"`
	// Decider picks the dataset for retrieval.
	Decider RoleConfig `mapstructure:"decider" yaml:"decider"`
	// Embedder embeds passages and queries.
	Embedder RoleConfig `mapstructure:"embedder" yaml:"embedder"`
}

// RoleConfig selects a provider and, optionally, a model override.
type RoleConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider,omitempty"`
	Model    string `mapstructure:"model" yaml:"model,omitempty"`
}

// RouterConfig configures persona routing.
type RouterConfig struct {
	// Strategy is "llm" or "classifier".
	Strategy string `mapstructure:"strategy" yaml:"strategy"`
	// DefaultPersona receives every query the router cannot place.
	DefaultPersona string `mapstructure:"default_persona" yaml:"default_persona"`
	// KeywordThreshold is the minimum keyword score accepted by the fast path.
	KeywordThreshold float64 `mapstructure:"keyword_threshold" yaml:"keyword_threshold"`
}

// ToolsConfig configures capability execution.
type ToolsConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retry             RetryConfig   `mapstructure:"retry" yaml:"retry"`
	PingCount         int           `mapstructure:"ping_count" yaml:"ping_count"`
	TracerouteMaxHops int           `mapstructure:"traceroute_max_hops" yaml:"traceroute_max_hops"`
}

// RetryConfig controls retries of transient capability failures.
// MaxAttempts of 1 disables retrying.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff" yaml:"backoff"`
}

// RetrievalConfig configures datasets and the index cache.
type RetrievalConfig struct {
	// DataDir holds the <dataset>.txt knowledge files.
	DataDir          string `mapstructure:"data_dir" yaml:"data_dir"`
	K                int    `mapstructure:"k" yaml:"k"`
	MaxCachedIndices int    `mapstructure:"max_cached_indices" yaml:"max_cached_indices"`
	EmbedBatchSize   int    `mapstructure:"embed_batch_size" yaml:"embed_batch_size"`
	// Watch re-ingests knowledge files when they change on disk.
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// ComposerConfig configures response generation.
type ComposerConfig struct {
	Stream       bool    `mapstructure:"stream" yaml:"stream"`
	SinglePrompt bool    `mapstructure:"single_prompt" yaml:"single_prompt"`
	HistoryTail  int     `mapstructure:"history_tail" yaml:"history_tail"`
	Language     string  `mapstructure:"language" yaml:"language"`
	MaxTokens    int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature" yaml:"temperature"`
}

// DataConfig contains configuration for the SQLite store.
type DataConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// ServerConfig configures `netbot serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// PublicURL is advertised in the agent card. Defaults to http://<addr>/.
	PublicURL string `mapstructure:"public_url" yaml:"public_url,omitempty"`
	// APIKeyHash is a bcrypt hash; when set, requests need a bearer key.
	APIKeyHash string `mapstructure:"api_key_hash" yaml:"api_key_hash,omitempty"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir receives one netbot_YYYY-MM-DD.log file per day. Empty disables file logging.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// JSON writes raw JSON lines to the console instead of the pretty format.
	JSON bool `mapstructure:"json" yaml:"json"`
}

// PersonasConfig points at an optional persona catalog override.
type PersonasConfig struct {
	CatalogPath string `mapstructure:"catalog_path" yaml:"catalog_path,omitempty"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	netbotDir := filepath.Join(homeDir, ".netbot")

	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "ollama",
			Providers: map[string]ProviderConfig{
				"ollama": {
					Endpoint: "http://127.0.0.1:11434",
					Model:    "llama3.2",
				},
				"anthropic": {
					APIKey: "",
					Model:  "claude-3-5-haiku-latest",
				},
				"gemini": {
					APIKey: "",
					Model:  "gemini-2.0-flash",
				},
			},
			Roles: RolesConfig{
				Generator:  RoleConfig{Provider: "ollama"},
				Router:     RoleConfig{Provider: "ollama"},
				Classifier: RoleConfig{Provider: "ollama", Model: "llama3.2:1b"},
				Decider:    RoleConfig{Provider: "ollama"},
				Embedder:   RoleConfig{Provider: "ollama", Model: "nomic-embed-text"},
			},
		},
		Router: RouterConfig{
			Strategy:         "llm",
			DefaultPersona:   "fixie",
			KeywordThreshold: 0.5,
		},
		Tools: ToolsConfig{
			Timeout: 90 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 1,
				Backoff:     500 * time.Millisecond,
			},
			PingCount:         4,
			TracerouteMaxHops: 15,
		},
		Retrieval: RetrievalConfig{
			DataDir:          filepath.Join(netbotDir, "data"),
			K:                3,
			MaxCachedIndices: 16,
			EmbedBatchSize:   32,
			Watch:            false,
		},
		Composer: ComposerConfig{
			Stream:      true,
			HistoryTail: 6,
			Language:    "tr",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		Data: DataConfig{
			DBPath: filepath.Join(netbotDir, "netbot.db"),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8088",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(netbotDir, "logs"),
		},
	}
}

// Load reads configuration from the default location (~/.netbot/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".netbot", "config.yaml")
	return LoadFromPath(configPath)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: NETBOT_LLM_PROVIDERS_GEMINI_API_KEY
	v.SetEnvPrefix("NETBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so keys missing in an older file keep sane values.
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Data.DBPath = expandPath(cfg.Data.DBPath)
	cfg.Logging.Dir = expandPath(cfg.Logging.Dir)
	cfg.Retrieval.DataDir = expandPath(cfg.Retrieval.DataDir)
	cfg.Personas.CatalogPath = expandPath(cfg.Personas.CatalogPath)

	return cfg, nil
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	return c.SaveToPath(c.GetConfigPath())
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// GetDataDir returns the netbot data directory path (~/.netbot).
func (c *Config) GetDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".netbot")
}

// GetConfigPath returns the full path to the config file.
func (c *Config) GetConfigPath() string {
	return filepath.Join(c.GetDataDir(), "config.yaml")
}

// EnsureDirectories creates the knowledge, log and database directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Retrieval.DataDir,
		filepath.Dir(c.Data.DBPath),
	}
	if c.Logging.Dir != "" {
		dirs = append(dirs, c.Logging.Dir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ResolveRole returns the provider name and the effective provider settings
// for a role. The role's model, when set, overrides the provider's model.
func (c *LLMConfig) ResolveRole(role RoleConfig) (string, ProviderConfig, error) {
	name := role.Provider
	if name == "" {
		name = c.DefaultProvider
	}
	pc, ok := c.Providers[name]
	if !ok {
		return "", ProviderConfig{}, fmt.Errorf("provider '%s' not found in providers map", name)
	}
	if role.Model != "" {
		pc.Model = role.Model
	}
	return name, pc, nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider cannot be empty")
	}

	if _, exists := c.LLM.Providers[c.LLM.DefaultProvider]; !exists {
		return fmt.Errorf("default provider '%s' not found in providers map", c.LLM.DefaultProvider)
	}

	roles := map[string]RoleConfig{
		"generator":  c.LLM.Roles.Generator,
		"router":     c.LLM.Roles.Router,
		"classifier": c.LLM.Roles.Classifier,
		"decider":    c.LLM.Roles.Decider,
		"embedder":   c.LLM.Roles.Embedder,
	}
	for name, role := range roles {
		if _, _, err := c.LLM.ResolveRole(role); err != nil {
			return fmt.Errorf("llm.roles.%s: %w", name, err)
		}
	}

	if c.Router.Strategy != "llm" && c.Router.Strategy != "classifier" {
		return fmt.Errorf("invalid router strategy '%s', must be 'llm' or 'classifier'", c.Router.Strategy)
	}
	if c.Router.DefaultPersona == "" {
		return fmt.Errorf("router.default_persona cannot be empty")
	}
	if c.Router.KeywordThreshold < 0 || c.Router.KeywordThreshold > 1 {
		return fmt.Errorf("router.keyword_threshold must be between 0 and 1")
	}

	if c.Tools.Timeout <= 0 {
		return fmt.Errorf("tools.timeout must be positive")
	}
	if c.Tools.Retry.MaxAttempts < 1 {
		return fmt.Errorf("tools.retry.max_attempts must be at least 1")
	}
	if c.Tools.Retry.Backoff < 0 {
		return fmt.Errorf("tools.retry.backoff cannot be negative")
	}

	if c.Retrieval.K < 1 {
		return fmt.Errorf("retrieval.k must be at least 1")
	}
	if c.Retrieval.MaxCachedIndices < 1 {
		return fmt.Errorf("retrieval.max_cached_indices must be at least 1")
	}

	if c.Composer.HistoryTail < 0 {
		return fmt.Errorf("composer.history_tail cannot be negative")
	}

	if c.Data.DBPath == "" {
		return fmt.Errorf("data.db_path cannot be empty")
	}

	if c.Server.APIKeyHash != "" && !strings.HasPrefix(c.Server.APIKeyHash, "$2") {
		return fmt.Errorf("server.api_key_hash is not a bcrypt hash")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
