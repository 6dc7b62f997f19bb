// Package config loads per-language server settings from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"lspsync/src/internal/registry"
)

// Settings contains the LSP server configuration.
type Settings struct {
	LSPServers map[string]*ServerConfig `yaml:"lsp_servers"`
}

// ServerConfig configures a single language server.
type ServerConfig struct {
	Command               string                 `yaml:"command"`
	Args                  []string               `yaml:"args"`
	InitializationOptions map[string]interface{} `yaml:"initialization_options,omitempty"`
}

// Load reads settings from a YAML file. A missing file yields the default
// settings rather than an error.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	if err := validate(&settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &settings, nil
}

// Save writes settings to a YAML file, creating parent directories.
func Save(settings *Settings, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

func validate(settings *Settings) error {
	if settings.LSPServers == nil {
		settings.LSPServers = make(map[string]*ServerConfig)
	}
	for language, sc := range settings.LSPServers {
		if sc == nil || sc.Command == "" {
			return fmt.Errorf("command is required for language %s", language)
		}
	}
	return nil
}

// DefaultPath returns the default settings file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lspsync", "config.yaml")
}

// Default returns settings for every language in the registry, using each
// language's default server command.
func Default() *Settings {
	servers := make(map[string]*ServerConfig)
	for _, name := range registry.GetLanguageNames() {
		info, _ := registry.GetLanguageByName(name)
		servers[name] = &ServerConfig{
			Command:               info.DefaultCommand,
			Args:                  append([]string(nil), info.DefaultArgs...),
			InitializationOptions: info.GetInitOptions(),
		}
	}
	return &Settings{LSPServers: servers}
}
