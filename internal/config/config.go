// Package config loads pipeline configuration from an optional YAML file
// overlaid by environment variables,configuration table.
// Precedence: environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every option the pipeline contract lists.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Encode  EncodeConfig  `yaml:"encode"`
	Catalog CatalogConfig `yaml:"catalog"`
	Retry   RetryConfig   `yaml:"retry"`
	Perms   PermsConfig   `yaml:"perms"`
	Flags   FlagsConfig   `yaml:"flags"`
}

// PathsConfig is the persistent-state layout the pipeline contract defines.
type PathsConfig struct {
	WorkDir       string `yaml:"work_dir" env:"WORK_DIR"`
	ManifestDir   string `yaml:"manifest_dir" env:"MANIFEST_DIR"`
	LockDir       string `yaml:"lock_dir" env:"LOCK_DIR"`
	NFSOutputDir  string `yaml:"nfs_output_dir" env:"NFS_OUTPUT_DIR"`
	ArchiveDir    string `yaml:"archive_dir" env:"ARCHIVE_DIR"`
	FailedDir     string `yaml:"failed_dir" env:"FAILED_DIR"`
	LogDir        string `yaml:"log_dir" env:"LOG_DIR"`
	CacheDir      string `yaml:"cache_dir" env:"CACHE_DIR"`
}

// EncodeConfig controls the concat+convert stage's encoder selection.
type EncodeConfig struct {
	MaxBitrateKbps int `yaml:"max_bitrate_kbps" env:"MAX_BITRATE"`
	Channels       int `yaml:"channels" env:"CHANNELS"`
}

// CatalogConfig controls metadata-client sourcing.
type CatalogConfig struct {
	MetadataSource           string        `yaml:"metadata_source" env:"METADATA_SOURCE"` // primary|fallback
	AudibleRegion            string        `yaml:"audible_region" env:"AUDIBLE_REGION"`
	AudnexusRegion           string        `yaml:"audnexus_region" env:"AUDNEXUS_REGION"`
	AudnexusCacheDays        int           `yaml:"audnexus_cache_days" env:"AUDNEXUS_CACHE_DAYS"`
	ChapterDurationTolerance float64       `yaml:"chapter_duration_tolerance" env:"CHAPTER_DURATION_TOLERANCE"`
	MetadataTimeout          time.Duration `yaml:"metadata_timeout" env:"-"`
	CoverTimeout             time.Duration `yaml:"cover_timeout" env:"-"`
}

// RetryConfig controls the orchestrator's error trap.
type RetryConfig struct {
	MaxRetries        int    `yaml:"max_retries" env:"MAX_RETRIES"`
	FailureWebhookURL string `yaml:"failure_webhook_url" env:"FAILURE_WEBHOOK_URL"`
}

// PermsConfig controls organize/archive's filesystem permission policy.
type PermsConfig struct {
	FileOwner string      `yaml:"file_owner" env:"FILE_OWNER"`
	FileMode  os.FileMode `yaml:"file_mode" env:"-"`
	DirMode   os.FileMode `yaml:"dir_mode" env:"-"`
}

// FlagsConfig holds the boolean behavior toggles.
type FlagsConfig struct {
	DryRun         bool   `yaml:"dry_run" env:"DRY_RUN"`
	Force          bool   `yaml:"force" env:"FORCE"`
	Verbose        bool   `yaml:"verbose" env:"VERBOSE"`
	NoLock         bool   `yaml:"no_lock" env:"-"`
	CleanupWorkDir bool   `yaml:"cleanup_work_dir" env:"CLEANUP_WORK_DIR"`
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"`
}

// Default returns a configuration with every field seeded so a bare run
// with no file and no environment still has usable values.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			WorkDir:      "/var/lib/audiobook-pipeline/work",
			ManifestDir:  "/var/lib/audiobook-pipeline/manifests",
			LockDir:      "/var/lib/audiobook-pipeline/lock",
			NFSOutputDir: "/mnt/plex/Audiobooks",
			ArchiveDir:   "/var/lib/audiobook-pipeline/archive",
			FailedDir:    "/var/lib/audiobook-pipeline/failed",
			LogDir:       "/var/log/audiobook-pipeline",
			CacheDir:     "/var/lib/audiobook-pipeline/cache",
		},
		Encode: EncodeConfig{
			MaxBitrateKbps: 64,
			Channels:       1,
		},
		Catalog: CatalogConfig{
			MetadataSource:           "primary",
			AudibleRegion:            "us",
			AudnexusRegion:           "us",
			AudnexusCacheDays:        30,
			ChapterDurationTolerance: 0.05,
			MetadataTimeout:          30 * time.Second,
			CoverTimeout:             60 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
		},
		Perms: PermsConfig{
			FileMode: 0o644,
			DirMode:  0o755,
		},
		Flags: FlagsConfig{
			CleanupWorkDir: true,
			LogLevel:       "info",
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, then the
// process environment, in that precedence order (last wins).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := getenv("WORK_DIR"); v != "" {
		cfg.Paths.WorkDir = v
	}
	if v := getenv("MANIFEST_DIR"); v != "" {
		cfg.Paths.ManifestDir = v
	}
	if v := getenv("LOCK_DIR"); v != "" {
		cfg.Paths.LockDir = v
	}
	if v := getenv("NFS_OUTPUT_DIR"); v != "" {
		cfg.Paths.NFSOutputDir = v
	}
	if v := getenv("ARCHIVE_DIR"); v != "" {
		cfg.Paths.ArchiveDir = v
	}
	if v := getenv("FAILED_DIR"); v != "" {
		cfg.Paths.FailedDir = v
	}
	if v := getenv("LOG_DIR"); v != "" {
		cfg.Paths.LogDir = v
	}
	if v := getenv("CACHE_DIR"); v != "" {
		cfg.Paths.CacheDir = v
	}
	if v := getIntEnv("MAX_BITRATE"); v > 0 {
		cfg.Encode.MaxBitrateKbps = v
	}
	if v := getIntEnv("CHANNELS"); v == 1 || v == 2 {
		cfg.Encode.Channels = v
	}
	if v := getenv("METADATA_SOURCE"); v != "" {
		cfg.Catalog.MetadataSource = v
	}
	if v := getenv("AUDIBLE_REGION"); v != "" {
		cfg.Catalog.AudibleRegion = v
	}
	if v := getenv("AUDNEXUS_REGION"); v != "" {
		cfg.Catalog.AudnexusRegion = v
	}
	if v := getIntEnv("AUDNEXUS_CACHE_DAYS"); v > 0 {
		cfg.Catalog.AudnexusCacheDays = v
	}
	if v := getFloatEnv("CHAPTER_DURATION_TOLERANCE"); v > 0 {
		cfg.Catalog.ChapterDurationTolerance = v
	}
	if v := getIntEnv("MAX_RETRIES"); v > 0 {
		cfg.Retry.MaxRetries = v
	}
	if v := getenv("FAILURE_WEBHOOK_URL"); v != "" {
		cfg.Retry.FailureWebhookURL = v
	}
	if v := getenv("FILE_OWNER"); v != "" {
		cfg.Perms.FileOwner = v
	}
	if v := getModeEnv("FILE_MODE"); v != 0 {
		cfg.Perms.FileMode = v
	}
	if v := getModeEnv("DIR_MODE"); v != 0 {
		cfg.Perms.DirMode = v
	}
	if v, ok := getBoolEnv("DRY_RUN"); ok {
		cfg.Flags.DryRun = v
	}
	if v, ok := getBoolEnv("FORCE"); ok {
		cfg.Flags.Force = v
	}
	if v, ok := getBoolEnv("VERBOSE"); ok {
		cfg.Flags.Verbose = v
	}
	if v, ok := getBoolEnv("CLEANUP_WORK_DIR"); ok {
		cfg.Flags.CleanupWorkDir = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Flags.LogLevel = v
	}
}

func getenv(name string) string { return os.Getenv(name) }

func getIntEnv(name string) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return 0
	}
	return v
}

func getFloatEnv(name string) float64 {
	v, err := strconv.ParseFloat(os.Getenv(name), 64)
	if err != nil {
		return 0
	}
	return v
}

func getModeEnv(name string) os.FileMode {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return 0
	}
	return os.FileMode(v)
}

func getBoolEnv(name string) (bool, bool) {
	raw, set := os.LookupEnv(name)
	if !set {
		return false, false
	}
	return strings.EqualFold(raw, "true") || raw == "1", true
}
