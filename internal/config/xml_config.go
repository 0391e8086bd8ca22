// Package config provides XML-based configuration for the CSV chatbot server.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultFileName is the config file created next to the executable.
const DefaultFileName = "CSVChatbot.exe.config"

// Supported model providers.
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"CSVChatbot"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Session lifetime
	Session SessionConfig `xml:"Session"`

	// Uploaded table handling
	Table TableConfig `xml:"Table"`

	// Hosted model settings
	Model ModelConfig `xml:"Model"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// SessionConfig controls how long idle sessions live
type SessionConfig struct {
	MaxSessions            int `xml:"MaxSessions"`
	TimeoutMinutes         int `xml:"TimeoutMinutes"`
	CleanupIntervalMinutes int `xml:"CleanupIntervalMinutes"`
	KeepAliveMinutes       int `xml:"KeepAliveMinutes"`
}

// TableConfig contains upload, preview and context settings
type TableConfig struct {
	PreviewRows   int    `xml:"PreviewRows"`
	ContextRows   int    `xml:"ContextRows"`
	MaxUploadSize string `xml:"MaxUploadSize"`
	MaxQueryRows  int    `xml:"MaxQueryRows"`
}

// ModelConfig selects and tunes the hosted chat model
type ModelConfig struct {
	Provider              string  `xml:"Provider"`
	Name                  string  `xml:"Name"`
	BaseURL               string  `xml:"BaseURL"`
	Region                string  `xml:"Region"`
	RequestTimeoutSeconds int     `xml:"RequestTimeoutSeconds"`
	Temperature           float32 `xml:"Temperature"`
	MaxTokens             int     `xml:"MaxTokens"`
	VerifyKey             bool    `xml:"VerifyKeyOnConfigure"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	EnableRequestLogging  bool   `xml:"EnableRequestLogging"`
	DuckDBThreads         int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit     string `xml:"DuckDBMemoryLimit"`
	// Raised as needed to fit a base64 table upload of Table.MaxUploadSize.
	WebSocketMaxMessageKB int    `xml:"WebSocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 120,
			IdleTimeout:  120,
			BodyLimit:    "64M",
		},
		Session: SessionConfig{
			MaxSessions:            100,
			TimeoutMinutes:         30,
			CleanupIntervalMinutes: 5,
			KeepAliveMinutes:       5,
		},
		Table: TableConfig{
			PreviewRows:   5,
			ContextRows:   2,
			MaxUploadSize: "50M",
			MaxQueryRows:  200,
		},
		Model: ModelConfig{
			Provider:              ProviderGemini,
			Name:                  "gemini-pro",
			BaseURL:               "https://generativelanguage.googleapis.com/v1beta",
			RequestTimeoutSeconds: 60,
			Temperature:           0.7,
			MaxTokens:             1024,
			VerifyKey:             true,
		},
		Advanced: AdvancedConfig{
			EnableRequestLogging:  true,
			DuckDBThreads:         2,
			DuckDBMemoryLimit:     "256MB",
			WebSocketMaxMessageKB: 64,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- CSV Chatbot Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects settings the server cannot run with
func (c *AppConfig) Validate() error {
	switch c.Model.Provider {
	case ProviderGemini, ProviderArk:
	default:
		return fmt.Errorf("unsupported model provider %q", c.Model.Provider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model name must not be empty")
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if provider := os.Getenv("MODEL_PROVIDER"); provider != "" {
		c.Model.Provider = strings.ToLower(strings.TrimSpace(provider))
	}
	if name := os.Getenv("MODEL_NAME"); name != "" {
		c.Model.Name = name
	}
	if baseURL := os.Getenv("MODEL_BASE_URL"); baseURL != "" {
		c.Model.BaseURL = baseURL
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// SessionTimeout returns the idle time after which a session is dropped
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}

// CleanupInterval returns the period of the session cleanup ticker
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Session.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Session.CleanupIntervalMinutes) * time.Minute
}

// KeepAlive returns the grace window after a keep-alive ping
func (c *AppConfig) KeepAlive() time.Duration {
	return time.Duration(c.Session.KeepAliveMinutes) * time.Minute
}

// RequestTimeout returns the per-call model timeout
func (m ModelConfig) RequestTimeout() time.Duration {
	if m.RequestTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(m.RequestTimeoutSeconds) * time.Second
}

// MaxUploadBytes parses Table.MaxUploadSize ("50M", "1G", "512K" or bytes).
func (c *AppConfig) MaxUploadBytes() int64 {
	n, err := ParseSize(c.Table.MaxUploadSize)
	if err != nil || n <= 0 {
		return 50 << 20
	}
	return n
}

// ParseSize parses a size with an optional K, M or G suffix (an optional
// trailing B is ignored).
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "B")
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult = 1 << 10
	case strings.HasSuffix(s, "M"):
		mult = 1 << 20
	case strings.HasSuffix(s, "G"):
		mult = 1 << 30
	}
	if mult > 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
