package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	Chat struct {
		// APIBaseURL hosts the token-mint and provisioning endpoints.
		APIBaseURL string `koanf:"api_base_url"`
		// MessagingBaseURL is the real-time messaging backend.
		MessagingBaseURL string `koanf:"messaging_base_url"`
		PageSize         int    `koanf:"page_size"`
		HistoryPageSize  int    `koanf:"history_page_size"`
		// TokenExpiryBufferSeconds is the reuse safety margin before expiry.
		TokenExpiryBufferSeconds int `koanf:"token_expiry_buffer_seconds"`
	} `koanf:"chat"`

	Session struct {
		// Token is the platform credential the service runs on behalf of.
		// Usually supplied via CRATELINE_SESSION_TOKEN.
		Token string `koanf:"token"`
	} `koanf:"session"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.port":                      8890,
		"chat.page_size":                   30,
		"chat.history_page_size":           10,
		"chat.token_expiry_buffer_seconds": 60,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try default locations - prioritize crdata for containerized environments
		defaultPaths := []string{"./crdata/crateline.toml", "./crateline.toml", "$HOME/.crateline.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix CRATELINE_
	k.Load(env.Provider("CRATELINE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(s), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# Crateline Configuration

[server]
port = 8890

[chat]
api_base_url = "https://api.crateline.example.com"
messaging_base_url = "https://chat.crateline.example.com"
page_size = 30
history_page_size = 10
token_expiry_buffer_seconds = 60
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Chat.APIBaseURL == "" {
		return fmt.Errorf("chat api_base_url is required")
	}
	if config.Chat.MessagingBaseURL == "" {
		return fmt.Errorf("chat messaging_base_url is required")
	}
	if config.Chat.PageSize <= 0 {
		return fmt.Errorf("chat page_size must be positive")
	}
	if config.Chat.HistoryPageSize <= 0 {
		return fmt.Errorf("chat history_page_size must be positive")
	}
	return nil
}
