package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config captures every knob shared across the mindwell CLI and server
// entry points. Keeping it as a lightweight struct makes it trivial to
// reuse in tests.
type Config struct {
	Workspace      string
	DatabasePath   string
	LogPath        string
	ConfigPath     string
	OllamaEndpoint string
	OllamaModel    string
	ServerAddr     string
	AuthHeader     string
	Debug          bool
}

// DefaultConfig infers sensible defaults based on the current working
// directory. Errors from os.Getwd are ignored so callers can override
// manually.
func DefaultConfig() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		Workspace:    cwd,
		DatabasePath: filepath.Join(cwd, ".mindwell", "mindwell.db"),
		LogPath:      filepath.Join(cwd, ".mindwell", "mindwell.log"),
		ConfigPath:   filepath.Join(cwd, ".mindwell", "config.yaml"),
		OllamaModel:  "llama3",
		ServerAddr:   ":8080",
		AuthHeader:   "X-Auth-Id",
	}
}

// Normalize ensures every filesystem path is absolute and fills missing
// defaults so runtime initialization never has to re-check the same
// invariants.
func (c *Config) Normalize() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace path required")
	}
	absWorkspace, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	c.Workspace = absWorkspace
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.Workspace, ".mindwell", "mindwell.db")
	}
	if c.DatabasePath != ":memory:" && !filepath.IsAbs(c.DatabasePath) {
		c.DatabasePath = filepath.Join(c.Workspace, c.DatabasePath)
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.Workspace, ".mindwell", "mindwell.log")
	}
	if !filepath.IsAbs(c.LogPath) {
		c.LogPath = filepath.Join(c.Workspace, c.LogPath)
	}
	if c.ConfigPath == "" {
		c.ConfigPath = filepath.Join(c.Workspace, ".mindwell", "config.yaml")
	}
	if !filepath.IsAbs(c.ConfigPath) {
		c.ConfigPath = filepath.Join(c.Workspace, c.ConfigPath)
	}
	if c.OllamaEndpoint == "" {
		c.OllamaEndpoint = "http://localhost:11434"
	}
	if c.OllamaModel == "" {
		c.OllamaModel = "llama3"
	}
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.AuthHeader == "" {
		c.AuthHeader = "X-Auth-Id"
	}
	return nil
}

// WorkspaceConfig captures persisted user selections for reuse across
// runs.
type WorkspaceConfig struct {
	Model       string `yaml:"model"`
	AuthHeader  string `yaml:"auth_header"`
	LastUpdated int64  `yaml:"last_updated"`
}

// LoadWorkspaceConfig loads the persisted configuration from disk.
func LoadWorkspaceConfig(path string) (WorkspaceConfig, error) {
	if path == "" {
		return WorkspaceConfig{}, fmt.Errorf("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkspaceConfig{}, err
	}
	var cfg WorkspaceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return WorkspaceConfig{}, err
	}
	return cfg, nil
}

// SaveWorkspaceConfig persists selections for future sessions.
func SaveWorkspaceConfig(path string, cfg WorkspaceConfig) error {
	if path == "" {
		return fmt.Errorf("config path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
