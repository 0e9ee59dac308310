// Package config provides configuration loading and structs for the pdfaccess service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvPageWorkers    = "PAGE_PROCESSING_WORKERS"
	EnvAttemptResolve = "PIPELINES_ATTEMPT_RESOLVE"
	EnvGeminiAPIKey   = "GEMINI_API_KEY"
	EnvCheckerURL     = "PDFACCESS_CHECKER_URL"
	EnvCheckerToken   = "PDFACCESS_CHECKER_TOKEN"
)

// Checker modes.
const (
	CheckerLocal  = "local"
	CheckerRemote = "remote"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Processing ProcessingConfig `yaml:"processing"`
	Checker    CheckerConfig    `yaml:"checker"`
	Naming     NamingConfig     `yaml:"naming"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port" validate:"min=1,max=65535"`
	MaxUploadMB int    `yaml:"max_upload_mb" validate:"gte=0"`
}

// MaxUploadBytes is the upload limit in bytes.
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds paths for the database, uploads and generated files.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" validate:"required"`
	UploadDir    string `yaml:"upload_dir" validate:"required"`
	// OutputDir holds tagged PDFs and per-document pipeline artifacts.
	OutputDir   string `yaml:"output_dir" validate:"required"`
	PreparedDir string `yaml:"prepared_dir"`
}

// TaggedDir is where checkers write tagged copies.
func (s StorageConfig) TaggedDir() string {
	return filepath.Join(s.OutputDir, "tagged")
}

// ProcessingConfig holds document processing settings.
type ProcessingConfig struct {
	PageWorkers    int   `yaml:"page_workers" validate:"gte=0"`
	AttemptResolve bool  `yaml:"attempt_resolve"`
	Prepare        *bool `yaml:"prepare"`
}

// PrepareOrDefault returns whether documents are optimized before checking; defaults to true when unset.
func (p *ProcessingConfig) PrepareOrDefault() bool {
	if p.Prepare != nil {
		return *p.Prepare
	}
	return true
}

// CheckerConfig selects and configures the accessibility checker.
type CheckerConfig struct {
	Mode    string        `yaml:"mode" validate:"oneof=local remote"`
	URL     string        `yaml:"url" validate:"required_if=Mode remote"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// NamingConfig configures filename suggestions. An empty APIKey uses the heuristic namer.
type NamingConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

// WatchConfig holds inbox directory settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	AutoProcess bool          `yaml:"auto_process"`
	Debounce    time.Duration `yaml:"debounce" validate:"gte=0"`
}

// Load reads the config file at path, loads an optional .env beside it, applies environment
// overrides and defaults, expands paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&cfg, filepath.Dir(path))
}

// LoadOrDefault behaves like Load but starts from defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	dir, absErr := filepath.Abs(filepath.Dir(path))
	if absErr != nil {
		dir = filepath.Dir(path)
	}
	return finish(&Config{}, dir)
}

func finish(cfg *Config, configDir string) (*Config, error) {
	if err := loadDotEnv(configDir); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	ApplyDefaults(cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.UploadDir = expandPath(cfg.Storage.UploadDir, configDir)
	cfg.Storage.OutputDir = expandPath(cfg.Storage.OutputDir, configDir)
	cfg.Storage.PreparedDir = expandPath(cfg.Storage.PreparedDir, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks field constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// loadDotEnv loads dir/.env when present. Variables already set in the environment win.
func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg from the environment. Invalid worker counts are ignored.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvPageWorkers); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Processing.PageWorkers = n
		}
	}
	if v, ok := os.LookupEnv(EnvAttemptResolve); ok {
		cfg.Processing.AttemptResolve = truthy(v)
	}
	if v := os.Getenv(EnvGeminiAPIKey); v != "" {
		cfg.Naming.APIKey = v
	}
	if v := os.Getenv(EnvCheckerURL); v != "" {
		cfg.Checker.URL = v
		if cfg.Checker.Mode == "" {
			cfg.Checker.Mode = CheckerRemote
		}
	}
	if v := os.Getenv(EnvCheckerToken); v != "" {
		cfg.Checker.Token = v
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
