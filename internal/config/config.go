package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Config mirrors kpiboard.yml.
type Config struct {
	TimeZone      string         `yaml:"timezone"`
	UploadTimeout time.Duration  `yaml:"upload_timeout"`
	LogMode       string         `yaml:"log_mode"`
	HTTP          HTTPConfig     `yaml:"http"`
	Evidence      EvidenceConfig `yaml:"evidence"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

type EvidenceConfig struct {
	Backend       string `yaml:"backend"`
	Bucket        string `yaml:"bucket,omitempty"`
	PublicBaseURL string `yaml:"public_base_url,omitempty"`
}

// Default returns the settings used when no file is present.
func Default() Config {
	return Config{
		TimeZone:      "UTC",
		UploadTimeout: 30 * time.Second,
		LogMode:       "dev",
		HTTP:          HTTPConfig{Addr: ":8080"},
		Evidence:      EvidenceConfig{Backend: BackendLocal},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.TimeZone, err)
	}
	if c.UploadTimeout <= 0 {
		return fmt.Errorf("upload_timeout must be positive")
	}
	switch c.Evidence.Backend {
	case BackendLocal:
	case BackendGCS:
		if strings.TrimSpace(c.Evidence.Bucket) == "" {
			return fmt.Errorf("evidence.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown evidence backend %q (expected local or gcs)", c.Evidence.Backend)
	}
	return nil
}

// Location returns the configured time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Marshal renders c as YAML for `kpiboard init`.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func applyEnv(cfg *Config) {
	cfg.LogMode = envString("KPIBOARD_LOG_MODE", cfg.LogMode)
	cfg.HTTP.Addr = envString("KPIBOARD_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Evidence.Bucket = envString("KPIBOARD_EVIDENCE_BUCKET", cfg.Evidence.Bucket)
	if secs := envInt("KPIBOARD_UPLOAD_TIMEOUT_SECONDS", 0); secs > 0 {
		cfg.UploadTimeout = time.Duration(secs) * time.Second
	}
}

func envString(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
