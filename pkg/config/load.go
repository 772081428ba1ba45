package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings holds all process configuration.
type Settings struct {
	Server struct {
		Port         string        `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`
	Storage struct {
		Backend      string `yaml:"backend"` // file, badger or memory
		DataDir      string `yaml:"data_dir"`
		MaxStorageMB int64  `yaml:"max_storage_mb"`
		MaxMemoryMB  int64  `yaml:"max_memory_mb"`
	} `yaml:"storage"`
	Source struct {
		Endpoints   []string          `yaml:"endpoints"`
		Timeout     time.Duration     `yaml:"timeout"`
		Headers     map[string]string `yaml:"headers"`
		UnitDivisor float64           `yaml:"unit_divisor"`
	} `yaml:"source"`
	Ingest struct {
		Schedule string `yaml:"schedule"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"ingest"`
	Query struct {
		DefaultHours int `yaml:"default_hours"`
	} `yaml:"query"`
	Backfill struct {
		Window   time.Duration `yaml:"window"`
		Epsilon  time.Duration `yaml:"epsilon"`
		Capacity int           `yaml:"capacity"`
	} `yaml:"backfill"`
	Derived struct {
		SnapshotPath string `yaml:"snapshot_path"`
	} `yaml:"derived"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// LogPath is the record file used by the file backend.
func (s *Settings) LogPath() string {
	return filepath.Join(s.Storage.DataDir, DefaultLogFile)
}

// Load reads .env (if present), then the YAML file at path (if present),
// then applies CAPDIFF_* and PORT environment overrides and defaults.
func Load(path string) (*Settings, error) {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := &Settings{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (s *Settings) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		s.Server.Port = v
	}
	if v := os.Getenv("CAPDIFF_STORAGE_BACKEND"); v != "" {
		s.Storage.Backend = v
	}
	if v := os.Getenv("CAPDIFF_DATA_DIR"); v != "" {
		s.Storage.DataDir = v
	}
	if v := os.Getenv("CAPDIFF_SOURCE_ENDPOINTS"); v != "" {
		s.Source.Endpoints = splitList(v)
	}
	if v := os.Getenv("CAPDIFF_INGEST_SCHEDULE"); v != "" {
		s.Ingest.Schedule = v
	}
	if v := os.Getenv("CAPDIFF_SNAPSHOT_PATH"); v != "" {
		s.Derived.SnapshotPath = v
	}
	if v := os.Getenv("CAPDIFF_LOG_LEVEL"); v != "" {
		s.Log.Level = v
	}

	var err error
	if s.Storage.MaxStorageMB, err = envInt64("CAPDIFF_MAX_STORAGE_MB", s.Storage.MaxStorageMB); err != nil {
		return err
	}
	if s.Storage.MaxMemoryMB, err = envInt64("CAPDIFF_MAX_MEMORY_MB", s.Storage.MaxMemoryMB); err != nil {
		return err
	}
	if s.Source.Timeout, err = envDuration("CAPDIFF_SOURCE_TIMEOUT", s.Source.Timeout); err != nil {
		return err
	}
	if v := os.Getenv("CAPDIFF_INGEST_DISABLED"); v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CAPDIFF_INGEST_DISABLED %q: %w", v, err)
		}
		s.Ingest.Disabled = disabled
	}
	return nil
}

func (s *Settings) applyDefaults() {
	if s.Server.Port == "" {
		s.Server.Port = DefaultPort
	}
	if s.Server.ReadTimeout == 0 {
		s.Server.ReadTimeout = DefaultReadTimeout
	}
	if s.Server.WriteTimeout == 0 {
		s.Server.WriteTimeout = DefaultWriteTimeout
	}
	if s.Storage.Backend == "" {
		s.Storage.Backend = DefaultStorageBackend
	}
	if s.Storage.DataDir == "" {
		s.Storage.DataDir = DefaultDataDir
	}
	if s.Storage.MaxStorageMB == 0 {
		s.Storage.MaxStorageMB = DefaultMaxStorageMB
	}
	if s.Storage.MaxMemoryMB == 0 {
		s.Storage.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if s.Source.Timeout == 0 {
		s.Source.Timeout = DefaultSourceTimeout
	}
	if s.Ingest.Schedule == "" {
		s.Ingest.Schedule = DefaultIngestSchedule
	}
	if s.Query.DefaultHours == 0 {
		s.Query.DefaultHours = DefaultQueryHours
	}
	if s.Backfill.Window == 0 {
		s.Backfill.Window = DefaultBackfillWindow
	}
	if s.Backfill.Epsilon == 0 {
		s.Backfill.Epsilon = DefaultBackfillEpsilon
	}
	if s.Backfill.Capacity == 0 {
		s.Backfill.Capacity = DefaultHistoryCapacity
	}
	if s.Derived.SnapshotPath == "" {
		s.Derived.SnapshotPath = DefaultSnapshotPath
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
}

// Validate checks that all settings are usable.
func (s *Settings) Validate() error {
	switch s.Storage.Backend {
	case "file", "badger", "memory":
	default:
		return fmt.Errorf("storage.backend must be file, badger or memory, got %q", s.Storage.Backend)
	}
	if _, err := strconv.Atoi(s.Server.Port); err != nil {
		return fmt.Errorf("server.port must be numeric, got %q", s.Server.Port)
	}
	if s.Storage.MaxStorageMB < 0 {
		return fmt.Errorf("storage.max_storage_mb must not be negative")
	}
	if s.Source.Timeout < 0 {
		return fmt.Errorf("source.timeout must not be negative")
	}
	if s.Source.UnitDivisor < 0 {
		return fmt.Errorf("source.unit_divisor must not be negative")
	}
	if s.Query.DefaultHours < 0 {
		return fmt.Errorf("query.default_hours must not be negative")
	}
	if s.Backfill.Window <= s.Backfill.Epsilon {
		return fmt.Errorf("backfill.window must be longer than backfill.epsilon")
	}
	if s.Backfill.Capacity < 1 {
		return fmt.Errorf("backfill.capacity must be positive")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}
