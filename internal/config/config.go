// Package config handles Nexus configuration loading.
//
// Configuration is a single YAML file. Values may reference environment
// variables as ${VAR}; a .env file next to the config (or in the working
// directory) is loaded first so API keys can live outside the YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Model tier names. The planner always uses Heavyweight; Lightweight
// resolves to whichever tier DefaultLightweightTier selects.
const (
	TierHeavyweight      = "heavyweight"
	TierLightweight      = "lightweight"
	TierLightweightAPI   = "lightweight_api"
	TierLightweightLocal = "lightweight_local"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/nexus/config.yaml, /etc/nexus/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "nexus", "config.yaml"))
	}

	paths = append(paths, "/etc/nexus/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Nexus configuration.
type Config struct {
	AppEnv      string          `yaml:"app_env"`
	Listen      ListenConfig    `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins"`
	Models      ModelsConfig    `yaml:"models"`
	Loop        LoopConfig      `yaml:"loop"`
	Reflector   ReflectorConfig `yaml:"reflector"`
	Workspace   WorkspaceConfig `yaml:"workspace"`
	Search      SearchConfig    `yaml:"search"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
	MCP         MCPConfig       `yaml:"mcp"`
	DataDir     string          `yaml:"data_dir"`
	LogLevel    string          `yaml:"log_level"`
	LogFormat   string          `yaml:"log_format"` // text (default), json or color
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines the reasoning-engine tiers.
type ModelsConfig struct {
	Heavyweight      ModelConfig `yaml:"heavyweight"`
	LightweightAPI   ModelConfig `yaml:"lightweight_api"`
	LightweightLocal ModelConfig `yaml:"lightweight_local"`

	// DefaultLightweightTier picks which lightweight model serves
	// condensation and extraction: lightweight_api or lightweight_local.
	DefaultLightweightTier string `yaml:"default_lightweight_tier"`

	// RetryAttempts bounds transport-level retries inside the engine
	// client. The loop itself never retries a stage.
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// ModelConfig describes one reasoning-engine endpoint.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // openai, deepseek, ollama
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// LoopConfig bounds a single orchestration loop instance.
type LoopConfig struct {
	// MaxTurns is the maximum number of planner calls per request.
	MaxTurns int `yaml:"max_turns"`
	// MaxDuration is the wall-clock budget for one request.
	MaxDuration time.Duration `yaml:"max_duration"`
	// MaxConcurrentTools bounds parallel tool execution within one
	// batch. 1 executes tools strictly sequentially.
	MaxConcurrentTools int           `yaml:"max_concurrent_tools"`
	PlannerTimeout     time.Duration `yaml:"planner_timeout"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	ReflectionTimeout  time.Duration `yaml:"reflection_timeout"`
}

// ReflectorConfig controls condensation of oversized tool results.
type ReflectorConfig struct {
	// MaxTextLength is the largest tool result, in characters, that is
	// passed back to the planner verbatim.
	MaxTextLength int `yaml:"max_text_length"`
}

// WorkspaceConfig defines the root for filesystem tools.
type WorkspaceConfig struct {
	// Path is the root directory for file operations. All steward
	// paths are confined to it. If empty, the steward tool is disabled.
	Path string `yaml:"path"`
}

// SearchConfig configures the seeker tool's search backends.
type SearchConfig struct {
	Default string            `yaml:"default"` // tavily, brave, searxng
	Tavily  TavilyConfig      `yaml:"tavily"`
	Brave   BraveConfig       `yaml:"brave"`
	SearXNG SearXNGConfig     `yaml:"searxng"`
	Extra   map[string]string `yaml:"extra,omitempty"`
}

// TavilyConfig configures the Tavily search API.
type TavilyConfig struct {
	APIKey string `yaml:"api_key"`
}

// BraveConfig configures the Brave Search API.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearXNGConfig configures a self-hosted SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// MQTTConfig configures the optional MQTT mirror of invocation records.
type MQTTConfig struct {
	Broker     string `yaml:"broker"` // mqtt://host:1883 or mqtts://
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
}

// Configured reports whether an MQTT broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// MCPConfig lists external MCP servers whose tools are offered to the
// planner alongside the built-in ones.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes one MCP server.
type MCPServerConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // stdio or http

	// stdio
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"` // KEY=VALUE, appended to the process environment

	// http
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	// Include, if set, bridges only the named tools. Exclude is
	// consulted only when Include is empty.
	Include []string `yaml:"include_tools"`
	Exclude []string `yaml:"exclude_tools"`
}

// IsDevelopment reports whether the server runs in development mode,
// which relaxes the CORS policy to any localhost origin.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development") || c.AppEnv == ""
}

// Lightweight returns the model configuration selected for the
// lightweight tier.
func (c *Config) Lightweight() (ModelConfig, string) {
	switch c.Models.DefaultLightweightTier {
	case TierLightweightAPI:
		return c.Models.LightweightAPI, TierLightweightAPI
	default:
		return c.Models.LightweightLocal, TierLightweightLocal
	}
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file next to the config
// and from the working directory. Existing environment variables win.
// Missing files are not an error.
func LoadDotEnv(configPath string) []string {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}

	var loaded []string
	seen := make(map[string]bool)
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err == nil {
			loaded = append(loaded, abs)
		}
	}
	return loaded
}

// Load reads configuration from a YAML file. Environment variables
// referenced as ${VAR} are expanded before parsing, and defaults fill
// any zero-valued fields afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// Default returns a runnable local configuration: a local Ollama model
// for both tiers and the API on port 8000.
func Default() *Config {
	cfg := &Config{
		Models: ModelsConfig{
			Heavyweight: ModelConfig{
				Provider: "ollama",
				Model:    "qwen2.5:14b",
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.AppEnv == "" {
		c.AppEnv = "development"
	}
	c.AppEnv = strings.ToLower(c.AppEnv)
	if c.Listen.Port == 0 {
		c.Listen.Port = 8000
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	if c.Reflector.MaxTextLength == 0 {
		c.Reflector.MaxTextLength = 4000
	}

	l := &c.Loop
	if l.MaxTurns == 0 {
		l.MaxTurns = 12
	}
	if l.MaxDuration == 0 {
		l.MaxDuration = 5 * time.Minute
	}
	if l.MaxConcurrentTools == 0 {
		l.MaxConcurrentTools = 4
	}
	if l.PlannerTimeout == 0 {
		l.PlannerTimeout = 2 * time.Minute
	}
	if l.ToolTimeout == 0 {
		l.ToolTimeout = 60 * time.Second
	}
	if l.ReflectionTimeout == 0 {
		l.ReflectionTimeout = 90 * time.Second
	}

	m := &c.Models
	if m.DefaultLightweightTier == "" {
		m.DefaultLightweightTier = TierLightweightLocal
	}
	if m.RetryAttempts == 0 {
		m.RetryAttempts = 2
	}
	if m.RetryBackoff == 0 {
		m.RetryBackoff = 500 * time.Millisecond
	}
	if m.Heavyweight.Provider == "" {
		m.Heavyweight.Provider = "deepseek"
	}
	if m.Heavyweight.Model == "" {
		m.Heavyweight.Model = "deepseek-chat"
	}
	if m.LightweightAPI.Provider == "" {
		m.LightweightAPI.Provider = "openai"
	}
	if m.LightweightAPI.Model == "" {
		m.LightweightAPI.Model = "gpt-4o-mini"
	}
	if m.LightweightLocal.Provider == "" {
		m.LightweightLocal.Provider = "ollama"
	}
	if m.LightweightLocal.Model == "" {
		m.LightweightLocal.Model = "llama3.2"
	}
	if m.LightweightLocal.BaseURL == "" && m.LightweightLocal.Provider == "ollama" {
		m.LightweightLocal.BaseURL = "http://localhost:11434"
	}

	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "nexus"
	}
}

// Validate reports configuration errors that make the server unusable.
// Warnings (missing optional keys) are the caller's concern.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Reflector.MaxTextLength <= 0 {
		errs = append(errs, fmt.Errorf("reflector.max_text_length must be positive, got %d", c.Reflector.MaxTextLength))
	}
	if c.Loop.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("loop.max_turns must be positive, got %d", c.Loop.MaxTurns))
	}
	if c.Loop.MaxConcurrentTools <= 0 {
		errs = append(errs, fmt.Errorf("loop.max_concurrent_tools must be positive, got %d", c.Loop.MaxConcurrentTools))
	}
	switch c.Models.DefaultLightweightTier {
	case TierLightweightAPI, TierLightweightLocal:
	default:
		errs = append(errs, fmt.Errorf("models.default_lightweight_tier %q is not %s or %s",
			c.Models.DefaultLightweightTier, TierLightweightAPI, TierLightweightLocal))
	}
	for name, m := range map[string]ModelConfig{
		TierHeavyweight:      c.Models.Heavyweight,
		TierLightweightAPI:   c.Models.LightweightAPI,
		TierLightweightLocal: c.Models.LightweightLocal,
	} {
		switch m.Provider {
		case "openai", "deepseek", "ollama":
		default:
			errs = append(errs, fmt.Errorf("models.%s.provider %q is not supported", name, m.Provider))
		}
	}
	switch c.LogFormat {
	case "", "text", "json", "color":
	default:
		errs = append(errs, fmt.Errorf("log_format %q (expected text, json or color)", c.LogFormat))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.MCP.Servers))
	for i, srv := range c.MCP.Servers {
		switch {
		case srv.Name == "":
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: name is required", i))
		case seen[srv.Name]:
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: duplicate name %q", i, srv.Name))
		}
		seen[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("mcp.servers[%d]: stdio transport needs a command", i))
			}
		case "http":
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("mcp.servers[%d]: http transport needs a url", i))
			}
		default:
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: transport %q (expected stdio or http)", i, srv.Transport))
		}
	}

	return errors.Join(errs...)
}
