package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models sentinel.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret      string `yaml:"jwt_secret"`
		AllowAnonymous bool   `yaml:"allow_anonymous"`
	} `yaml:"auth"`
	Bridge struct {
		URL            string        `yaml:"url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		TokenSecret    string        `yaml:"token_secret"`
		AgentName      string        `yaml:"agent_name"`
	} `yaml:"bridge"`
	Advisor struct {
		BaseURL   string        `yaml:"base_url"`
		Model     string        `yaml:"model"`
		ChatModel string        `yaml:"chat_model"`
		APIKeyEnv string        `yaml:"api_key_env"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"advisor"`
	Overseer struct {
		VerifyTimeout time.Duration `yaml:"verify_timeout"`
	} `yaml:"overseer"`
	Events struct {
		NATSURL     string          `yaml:"nats_url"`
		NATSSubject string          `yaml:"nats_subject"`
		Webhooks    []WebhookConfig `yaml:"webhooks,omitempty"`
	} `yaml:"events"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// WebhookConfig receives committed audit entries over HTTP.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Actions        []string `yaml:"actions,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Default returns a Config with every value populated.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v0"
	cfg.Auth.AllowAnonymous = true
	cfg.Bridge.URL = "ws://localhost:8080"
	cfg.Bridge.ReconnectDelay = time.Second
	cfg.Bridge.AgentName = "Remote_Agent"
	cfg.Advisor.BaseURL = "https://api.openai.com/v1"
	cfg.Advisor.Model = "gpt-4o-mini"
	cfg.Advisor.ChatModel = "gpt-4o-mini"
	cfg.Advisor.APIKeyEnv = "OPENAI_API_KEY"
	cfg.Advisor.Timeout = 30 * time.Second
	cfg.Overseer.VerifyTimeout = 8 * time.Second
	cfg.Events.NATSSubject = "sentinel.audit"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return &cfg
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Bridge.URL != "" {
		u, err := url.Parse(c.Bridge.URL)
		if err != nil {
			return fmt.Errorf("config.bridge.url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("config.bridge.url must use ws or wss, got %q", u.Scheme)
		}
	}
	if c.Bridge.ReconnectDelay < 0 {
		return fmt.Errorf("config.bridge.reconnect_delay must not be negative")
	}
	if c.Advisor.Timeout <= 0 {
		return fmt.Errorf("config.advisor.timeout must be positive")
	}
	if c.Overseer.VerifyTimeout <= 0 {
		return fmt.Errorf("config.overseer.verify_timeout must be positive")
	}
	if c.Events.NATSURL != "" && c.Events.NATSSubject == "" {
		return fmt.Errorf("config.events.nats_subject is required when nats_url is set")
	}
	for i, hook := range c.Events.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.events.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.events.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.logging.format must be text or json")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "sentinel.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
