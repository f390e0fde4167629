// Package config loads the development host configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/sandbox"
)

// Config represents the host configuration.
type Config struct {
	Host     HostConfig     `yaml:"host"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Server   ServerConfig   `yaml:"server"`
	Limits   LimitsConfig   `yaml:"limits"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type HostConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Addr    string `yaml:"addr"`
	// AllowedOrigins lists the page origins that may open the bridge
	// websocket. Empty means same host only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ProtocolConfig struct {
	Versions        []string `yaml:"versions"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	TeardownTimeout Duration `yaml:"teardown_timeout"`
}

// SandboxConfig places the sandbox proxy on its own origin so guest content
// never shares the host page origin.
type SandboxConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// ServerConfig is the backend MCP server started over stdio.
type ServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	// Tool is the tool whose UI resource the host page renders.
	Tool string `yaml:"tool"`
}

type LimitsConfig struct {
	// RequestsPerSecond caps guest requests per session. Zero disables the
	// limit.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			Name:    "mcp-apps-host",
			Version: "0.1.0",
			Addr:    "127.0.0.1:8080",
		},
		Protocol: ProtocolConfig{
			Versions:        append([]string(nil), protocol.SupportedProtocolVersions...),
			RequestTimeout:  Duration(30 * time.Second),
			TeardownTimeout: Duration(3 * time.Second),
		},
		Sandbox: SandboxConfig{
			Addr: "127.0.0.1:8081",
			Path: "/sandbox",
		},
		Limits: LimitsConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path on top of the defaults. An empty path
// yields the defaults. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MCP_APPS_ADDR"); v != "" {
		c.Host.Addr = v
	}
	if v := os.Getenv("MCP_APPS_SANDBOX_ADDR"); v != "" {
		c.Sandbox.Addr = v
	}
	if v := os.Getenv("MCP_APPS_SERVER_COMMAND"); v != "" {
		c.Server.Command = v
	}
	if v := os.Getenv("MCP_APPS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MCP_APPS_RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MCP_APPS_RATE_LIMIT: %w", err)
		}
		c.Limits.RequestsPerSecond = rps
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host.Name == "" {
		return fmt.Errorf("host.name is required")
	}
	if c.Host.Version == "" {
		return fmt.Errorf("host.version is required")
	}
	if c.Host.Addr == "" {
		return fmt.Errorf("host.addr is required")
	}
	for _, o := range c.Host.AllowedOrigins {
		if _, err := sandbox.NormalizeOrigin(o); err != nil {
			return fmt.Errorf("host.allowed_origins: %w", err)
		}
	}
	if len(c.Protocol.Versions) == 0 {
		return fmt.Errorf("protocol.versions must not be empty")
	}
	if c.Protocol.RequestTimeout <= 0 {
		return fmt.Errorf("protocol.request_timeout must be positive")
	}
	if c.Protocol.TeardownTimeout <= 0 {
		return fmt.Errorf("protocol.teardown_timeout must be positive")
	}
	if c.Sandbox.Addr == "" {
		return fmt.Errorf("sandbox.addr is required")
	}
	if c.Sandbox.Addr == c.Host.Addr {
		return fmt.Errorf("sandbox.addr must differ from host.addr so the sandbox runs on its own origin")
	}
	if c.Sandbox.Path == "" || c.Sandbox.Path[0] != '/' {
		return fmt.Errorf("sandbox.path must start with /")
	}
	if c.Limits.RequestsPerSecond < 0 {
		return fmt.Errorf("limits.requests_per_second must not be negative")
	}
	if c.Limits.RequestsPerSecond > 0 && c.Limits.Burst < 1 {
		return fmt.Errorf("limits.burst must be at least 1 when a rate limit is set")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json'")
	}
	return nil
}
