// Package config provides XML-based configuration management for air-gapped deployment.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"WaferPendant"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Robot configuration
	Robot RobotConfig `xml:"Robot"`

	// Safety configuration
	Safety SafetyConfig `xml:"Safety"`

	// Teaching data configuration
	Teaching TeachingConfig `xml:"Teaching"`

	// Run history configuration
	History HistoryConfig `xml:"History"`

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

// RobotConfig contains controller settings
type RobotConfig struct {
	AutoConnect         bool    `xml:"AutoConnect"`
	DefaultSpeedPercent int     `xml:"DefaultSpeedPercent"`
	SimulatorTimeScale  float64 `xml:"SimulatorTimeScale"`
}

// SafetyConfig contains interlock rule settings
type SafetyConfig struct {
	// RulesFile points at a YAML rule set. When the file is absent the
	// built-in envelope and interlocks apply.
	RulesFile string `xml:"RulesFile"`
}

// TeachingConfig contains taught-position settings
type TeachingConfig struct {
	DataFile string `xml:"DataFile"`
}

// HistoryConfig contains run history persistence settings
type HistoryConfig struct {
	DataDirectory string `xml:"DataDirectory"`
	DatabaseFile  string `xml:"DatabaseFile"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	EnableRequestLogging bool `xml:"EnableRequestLogging"`
	EnableCompression    bool `xml:"EnableCompression"`
	CompressionLevel     int  `xml:"CompressionLevel"`
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
			WriteTimeout: 0, // streaming endpoints stay open for whole runs
			IdleTimeout:  120,
			BodyLimit:    "4M",
		},
		Robot: RobotConfig{
			AutoConnect:         true,
			DefaultSpeedPercent: 50,
			SimulatorTimeScale:  1.0,
		},
		Safety: SafetyConfig{
			RulesFile: "safety_rules.yaml",
		},
		Teaching: TeachingConfig{
			DataFile: "teaching_data.xml",
		},
		History: HistoryConfig{
			DataDirectory: "./data",
			DatabaseFile:  "history.db",
		},
		Advanced: AdvancedConfig{
			EnableRequestLogging: true,
			EnableCompression:    true,
			CompressionLevel:     5,
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
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &AppConfig{}
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Wafer Pendant Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
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

	// DATA_DIR override
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.History.DataDirectory = dataDir
	}
}

// resolvePaths converts relative paths to absolute. The data directory
// resolves against the config file location; the data files resolve
// against the data directory.
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.History.DataDirectory) {
		c.History.DataDirectory = filepath.Join(configDir, c.History.DataDirectory)
	}
	if !filepath.IsAbs(c.History.DatabaseFile) {
		c.History.DatabaseFile = filepath.Join(c.History.DataDirectory, c.History.DatabaseFile)
	}
	if !filepath.IsAbs(c.Teaching.DataFile) {
		c.Teaching.DataFile = filepath.Join(c.History.DataDirectory, c.Teaching.DataFile)
	}
	if c.Safety.RulesFile != "" && !filepath.IsAbs(c.Safety.RulesFile) {
		c.Safety.RulesFile = filepath.Join(c.History.DataDirectory, c.Safety.RulesFile)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.History.DataDirectory
}

// GetHistoryDBPath returns the absolute run history database path
func (c *AppConfig) GetHistoryDBPath() string {
	return c.History.DatabaseFile
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.History.DataDirectory,
		filepath.Dir(c.History.DatabaseFile),
		filepath.Dir(c.Teaching.DataFile),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
