package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ProviderTypeOpenAI    = "openai"
	ProviderTypeAnthropic = "anthropic"
)

// DefaultInstruction is sent when a run is started without one.
const DefaultInstruction = "Give me a command that creates a hello.txt file in the /tmp folder."

type ProviderConfig struct {
	Type    string            `mapstructure:"type"` // "openai" (any OpenAI-compatible API) or "anthropic"
	BaseURL string            `mapstructure:"base_url"`
	APIKey  string            `mapstructure:"api_key"`
	Models  map[string]string `mapstructure:"models"`
}

type OracleConfig struct {
	Temperature  float64 `mapstructure:"temperature"`
	JSONMode     bool    `mapstructure:"json_mode"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	Instruction  string  `mapstructure:"instruction"`
}

type SandboxConfig struct {
	Image        string        `mapstructure:"image"`
	Images       []string      `mapstructure:"images"`
	MaxMemory    string        `mapstructure:"max_memory"`
	Network      bool          `mapstructure:"network"`
	Shell        string        `mapstructure:"shell"`
	Keep         bool          `mapstructure:"keep"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// AllowedOrigins lists extra browser origins (scheme://host[:port]) that
	// may open the WebSocket. Same-host origins are always accepted.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type Config struct {
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
	DefaultProvider string                    `mapstructure:"default_provider"`
	Oracle          OracleConfig              `mapstructure:"oracle"`
	Sandbox         SandboxConfig             `mapstructure:"sandbox"`
	Server          ServerConfig              `mapstructure:"server"`
	Storage         StorageConfig             `mapstructure:"storage"`
	ProfilesDir     string                    `mapstructure:"profiles_dir"`
}

// Load reads configuration. An empty path searches for sandcmd.yaml in the
// working directory and $HOME/.sandcmd; a missing file there is not an
// error and leaves every setting at its default. SANDCMD_* environment
// variables override file values (e.g. SANDCMD_SANDBOX_IMAGE).
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sandcmd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sandcmd")
	}

	v.SetEnvPrefix("SANDCMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in API keys
	for name, p := range cfg.Providers {
		p.APIKey = expandEnv(p.APIKey)
		if p.Type == "" {
			p.Type = ProviderTypeOpenAI
		}
		cfg.Providers[name] = p
	}
	cfg.Storage.DBPath = expandHome(cfg.Storage.DBPath)
	cfg.ProfilesDir = expandHome(cfg.ProfilesDir)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	home := os.Getenv("HOME")

	v.SetDefault("default_provider", "ollama")
	v.SetDefault("providers.ollama.type", ProviderTypeOpenAI)
	v.SetDefault("providers.ollama.base_url", "http://localhost:11434/v1/")
	v.SetDefault("providers.ollama.api_key", "ollama")
	v.SetDefault("providers.ollama.models.default", "llama3.2")

	v.SetDefault("oracle.temperature", 0.0)
	v.SetDefault("oracle.json_mode", true)
	v.SetDefault("oracle.max_tokens", 1024)
	v.SetDefault("oracle.system_prompt", "")
	v.SetDefault("oracle.instruction", DefaultInstruction)

	v.SetDefault("sandbox.image", "ubuntu:latest")
	v.SetDefault("sandbox.images", []string{})
	v.SetDefault("sandbox.max_memory", "256m")
	v.SetDefault("sandbox.network", false)
	v.SetDefault("sandbox.shell", "")
	v.SetDefault("sandbox.keep", false)
	v.SetDefault("sandbox.start_timeout", "30s")

	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.db_path", filepath.Join(home, ".sandcmd", "sandcmd.db"))
	v.SetDefault("profiles_dir", filepath.Join(home, ".sandcmd", "profiles"))
}

// expandEnv resolves a "${VAR}" reference; other values are returned as is.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		return filepath.Join(os.Getenv("HOME"), strings.TrimPrefix(p, "~"))
	}
	return p
}

// IsOllama returns true if this provider looks like an Ollama instance.
func (p ProviderConfig) IsOllama() bool {
	return p.Type == ProviderTypeOpenAI &&
		(strings.Contains(p.BaseURL, ":11434") || strings.Contains(strings.ToLower(p.BaseURL), "ollama"))
}

// ModelNames returns the distinct configured model names, sorted.
func (p ProviderConfig) ModelNames() []string {
	var names []string
	for _, name := range p.Models {
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Provider returns the config for a named provider, falling back to the default.
func (c *Config) Provider(name string) (ProviderConfig, error) {
	if name == "" {
		name = c.DefaultProvider
	}
	p, ok := c.Providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("unknown provider: %s", name)
	}
	return p, nil
}
