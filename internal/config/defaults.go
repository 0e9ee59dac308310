package config

import (
	"time"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/naming"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 50
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/pdfaccess.db"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "./data/uploads"
	}
	if cfg.Storage.OutputDir == "" {
		cfg.Storage.OutputDir = "./output_pdfs"
	}
	if cfg.Storage.PreparedDir == "" {
		cfg.Storage.PreparedDir = "./data/prepared"
	}
	if cfg.Processing.PageWorkers == 0 {
		cfg.Processing.PageWorkers = 8
	}
	if cfg.Checker.Mode == "" {
		cfg.Checker.Mode = CheckerLocal
	}
	if cfg.Checker.Timeout == 0 {
		cfg.Checker.Timeout = 120 * time.Second
	}
	if cfg.Naming.Model == "" {
		cfg.Naming.Model = naming.DefaultModel
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
}
