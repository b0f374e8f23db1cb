// Package config loads the read-only configuration snapshot ergon is
// started with. The snapshot may be stored as JSON, TOML or YAML, the format
// is chosen by the file extension.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	"gopkg.in/yaml.v3"
)

const (
	DirEnv          = "ERGON_CONFIG_DIR"
	ModelEnv        = "ERGON_MODEL"
	DefaultFileName = "config.json"
)

// Provider is the configuration of one provider adapter. Zero values leave
// the choice to the adapter.
type Provider struct {
	Endpoint          string `json:"endpoint,omitempty" toml:"endpoint" yaml:"endpoint,omitempty"`
	APIKey            string `json:"api_key,omitempty" toml:"api_key" yaml:"api_key,omitempty"`
	APIKeyEnv         string `json:"api_key_env,omitempty" toml:"api_key_env" yaml:"api_key_env,omitempty"`
	Model             string `json:"model,omitempty" toml:"model" yaml:"model,omitempty"`
	MaxTokens         int    `json:"max_tokens,omitempty" toml:"max_tokens" yaml:"max_tokens,omitempty"`
	RequestsPerMinute int    `json:"requests_per_minute,omitempty" toml:"requests_per_minute" yaml:"requests_per_minute,omitempty"`
	TimeoutSeconds    int    `json:"timeout_seconds,omitempty" toml:"timeout_seconds" yaml:"timeout_seconds,omitempty"`
}

type Config struct {
	OpenAI    Provider `json:"openai" toml:"openai" yaml:"openai"`
	Anthropic Provider `json:"anthropic" toml:"anthropic" yaml:"anthropic"`
	Vllm      Provider `json:"vllm" toml:"vllm" yaml:"vllm"`

	DefaultModel     string   `json:"default_model" toml:"default_model" yaml:"default_model"`
	FallbackModel    string   `json:"fallback_model" toml:"fallback_model" yaml:"fallback_model"`
	FallbackProvider string   `json:"fallback_provider" toml:"fallback_provider" yaml:"fallback_provider"`
	SystemPrompt     string   `json:"system_prompt" toml:"system_prompt" yaml:"system_prompt"`
	Temperature      *float64 `json:"temperature,omitempty" toml:"temperature" yaml:"temperature,omitempty"`

	MaxParallelToolCalls int  `json:"max_parallel_tool_calls" toml:"max_parallel_tool_calls" yaml:"max_parallel_tool_calls"`
	MaxToolRounds        int  `json:"max_tool_rounds" toml:"max_tool_rounds" yaml:"max_tool_rounds"`
	ToolOutputRuneLimit  int  `json:"tool_output_rune_limit" toml:"tool_output_rune_limit" yaml:"tool_output_rune_limit"`
	ToolTimeoutSeconds   int  `json:"tool_timeout_seconds" toml:"tool_timeout_seconds" yaml:"tool_timeout_seconds"`
	BuiltinTools         bool `json:"builtin_tools" toml:"builtin_tools" yaml:"builtin_tools"`

	McpServers []pub_models.McpServer `json:"mcp_servers" toml:"mcp_servers" yaml:"mcp_servers"`
}

// Default is the configuration written when no configuration exists.
func Default() Config {
	return Config{
		FallbackModel:        "gpt-4o-mini",
		FallbackProvider:     string(pub_models.ProviderOpenAI),
		SystemPrompt:         "You are a helpful assistant. Use the available tools when they help answering.",
		MaxParallelToolCalls: 4,
		MaxToolRounds:        25,
		ToolTimeoutSeconds:   60,
		BuiltinTools:         true,
		McpServers:           []pub_models.McpServer{},
	}
}

// Dir is where the configuration lives, ~/.ergon unless overridden with
// ERGON_CONFIG_DIR.
func Dir() (string, error) {
	if d := os.Getenv(DirEnv); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home dir: %w", err)
	}
	return filepath.Join(home, ".ergon"), nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultFileName), nil
}

// Load reads the configuration at path. A missing file is created with the
// defaults. Zero valued settings are filled with defaults, ERGON_MODEL
// overrides the default model and the result is validated.
func Load(path string) (Config, error) {
	if misc.Truthy(os.Getenv("DEBUG")) {
		ancli.PrintOK(fmt.Sprintf("attempting to load file: %v\n", path))
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := create(path, Default()); err != nil {
			return Config{}, err
		}
		ancli.PrintOK(fmt.Sprintf("created default config at: '%v'\n", path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	c, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config '%v': %w", path, err)
	}
	c.fillDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config '%v': %w", path, err)
	}
	if misc.Truthy(os.Getenv("DEBUG")) {
		ancli.PrintOK(fmt.Sprintf("found config: %+v\n", c))
	}
	return c, nil
}

// Parse decodes data in the format given by the file extension ext.
func Parse(data []byte, ext string) (Config, error) {
	var c Config
	switch strings.ToLower(ext) {
	case ".json", "":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return Config{}, err
		}
	case ".toml":
		md, err := toml.Decode(string(data), &c)
		if err != nil {
			return Config{}, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("unknown keys: %v", undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format: '%v'", ext)
	}
	return c, nil
}

func create(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := encode(c, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func encode(c Config, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".json", "":
		return json.MarshalIndent(c, "", "  ")
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ".yaml", ".yml":
		return yaml.Marshal(c)
	default:
		return nil, fmt.Errorf("unsupported config format: '%v'", ext)
	}
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.FallbackModel == "" {
		c.FallbackModel = d.FallbackModel
	}
	if c.FallbackProvider == "" {
		c.FallbackProvider = d.FallbackProvider
	}
	if c.MaxParallelToolCalls == 0 {
		c.MaxParallelToolCalls = d.MaxParallelToolCalls
	}
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = d.MaxToolRounds
	}
	if c.ToolTimeoutSeconds == 0 {
		c.ToolTimeoutSeconds = d.ToolTimeoutSeconds
	}
}

func (c *Config) applyEnvOverrides() {
	if m := os.Getenv(ModelEnv); m != "" {
		c.DefaultModel = m
	}
}

// Validate reports every problem of the configuration at once.
func (c Config) Validate() error {
	var errs []error
	for name, p := range map[string]Provider{"openai": c.OpenAI, "anthropic": c.Anthropic, "vllm": c.Vllm} {
		if p.MaxTokens < 0 || p.RequestsPerMinute < 0 || p.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("%v: limits may not be negative", name))
		}
	}
	switch pub_models.Provider(c.FallbackProvider) {
	case pub_models.ProviderOpenAI, pub_models.ProviderAnthropic, pub_models.ProviderVllm:
	default:
		errs = append(errs, fmt.Errorf("unknown fallback_provider: '%v'", c.FallbackProvider))
	}
	if c.MaxParallelToolCalls < 0 || c.MaxToolRounds < 0 || c.ToolOutputRuneLimit < 0 || c.ToolTimeoutSeconds < 0 {
		errs = append(errs, errors.New("tool limits may not be negative"))
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got: %v", *c.Temperature))
	}

	seen := make(map[string]bool, len(c.McpServers))
	for i, s := range c.McpServers {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("mcp_servers[%v]: id is empty", i))
		case !pub_models.ValidServerID(s.ID):
			errs = append(errs, fmt.Errorf("mcp_servers[%v]: id '%v' may not contain '%v' or end with '_'", i, s.ID, pub_models.NamespaceSeparator))
		case seen[s.ID]:
			errs = append(errs, fmt.Errorf("mcp_servers[%v]: duplicate id '%v'", i, s.ID))
		}
		seen[s.ID] = true
		if strings.TrimSpace(s.Command) == "" && strings.TrimSpace(s.URL) == "" {
			errs = append(errs, fmt.Errorf("mcp_servers[%v]: one of command or url is required", i))
		}
		if s.MaxInFlight < 0 || s.ConnectTimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("mcp_servers[%v]: limits may not be negative", i))
		}
	}
	return errors.Join(errs...)
}
