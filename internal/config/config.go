package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAID is the application identifier the reader selects and the
// credential endpoint answers to ("TAPGTE" under a proprietary prefix).
var DefaultAID = []byte{0xF0, 0x54, 0x41, 0x50, 0x47, 0x54, 0x45}

type Config struct {
	// DB
	Env    string `yaml:"env"`     // "dev" | "prod"
	DBPath string `yaml:"db_path"` // e.g. "./data/tapgate.db"

	LogLevel string `yaml:"log_level"`

	// Device provisioning
	ControlPointID int64  `yaml:"control_point_id"`
	HolderID       int64  `yaml:"holder_id"`
	AIDHex         string `yaml:"aid"` // 7-byte hex; empty = DefaultAID

	// Authority
	AuthorityURL     string `yaml:"authority_url"`
	AuthorityTimeout int    `yaml:"authority_timeout_s"`

	// Reader timings (seconds)
	ResultTimeoutS   int `yaml:"result_timeout_s"`
	DisplayDurationS int `yaml:"display_duration_s"`
	CooldownS        int `yaml:"cooldown_s"`

	// Sync
	SyncIntervalMin int `yaml:"sync_interval_min"`
	PushRetryLimit  int `yaml:"push_retry_limit"`
	ProbeIntervalS  int `yaml:"probe_interval_s"`
}

// Load reads the optional YAML file named by TAPGATE_CONFIG (default
// ./tapgate.yaml), then applies environment overrides on top. A missing
// file is not an error; unknown values fail soft to defaults.
func Load() (Config, error) {
	cfg := defaults()

	path := getenvDefault("TAPGATE_CONFIG", "./tapgate.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Env != "dev" && cfg.Env != "prod" {
		// fail-soft: treat unknown as dev
		cfg.Env = "dev"
	}

	return cfg, nil
}

// FromEnv returns config from defaults and environment only, ignoring
// any config file. Used by tests and the CLI.
func FromEnv() Config {
	cfg := defaults()
	applyEnv(&cfg)
	if cfg.Env != "dev" && cfg.Env != "prod" {
		cfg.Env = "dev"
	}
	return cfg
}

func defaults() Config {
	return Config{
		Env:              "dev",
		DBPath:           "./data/tapgate.db",
		LogLevel:         "info",
		ControlPointID:   1,
		HolderID:         1,
		AuthorityURL:     "http://localhost:8090",
		AuthorityTimeout: 5,
		ResultTimeoutS:   10,
		DisplayDurationS: 5,
		CooldownS:        3,
		SyncIntervalMin:  5,
		PushRetryLimit:   10,
		ProbeIntervalS:   30,
	}
}

func applyEnv(cfg *Config) {
	cfg.Env = strings.ToLower(getenvDefault("TAPGATE_ENV", cfg.Env))
	cfg.DBPath = getenvDefault("TAPGATE_DB_PATH", cfg.DBPath)
	cfg.LogLevel = getenvDefault("TAPGATE_LOG_LEVEL", cfg.LogLevel)
	cfg.AuthorityURL = getenvDefault("TAPGATE_AUTHORITY_URL", cfg.AuthorityURL)
	cfg.AIDHex = getenvDefault("TAPGATE_AID", cfg.AIDHex)

	cfg.ControlPointID = getenvInt64("TAPGATE_CONTROL_POINT_ID", cfg.ControlPointID)
	cfg.HolderID = getenvInt64("TAPGATE_HOLDER_ID", cfg.HolderID)

	cfg.AuthorityTimeout = getenvInt("TAPGATE_AUTHORITY_TIMEOUT_S", cfg.AuthorityTimeout)
	cfg.ResultTimeoutS = getenvInt("TAPGATE_RESULT_TIMEOUT_S", cfg.ResultTimeoutS)
	cfg.DisplayDurationS = getenvInt("TAPGATE_DISPLAY_DURATION_S", cfg.DisplayDurationS)
	cfg.CooldownS = getenvInt("TAPGATE_COOLDOWN_S", cfg.CooldownS)
	cfg.SyncIntervalMin = getenvInt("TAPGATE_SYNC_INTERVAL_MIN", cfg.SyncIntervalMin)
	cfg.PushRetryLimit = getenvInt("TAPGATE_PUSH_RETRY_LIMIT", cfg.PushRetryLimit)
	cfg.ProbeIntervalS = getenvInt("TAPGATE_PROBE_INTERVAL_S", cfg.ProbeIntervalS)
}

// AID returns the configured application identifier, falling back to
// DefaultAID when unset or malformed.
func (c Config) AID() []byte {
	s := strings.TrimSpace(c.AIDHex)
	if s == "" {
		return DefaultAID
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(DefaultAID) {
		return DefaultAID
	}
	return b
}

func (c Config) AuthorityTimeoutDuration() time.Duration {
	return time.Duration(c.AuthorityTimeout) * time.Second
}

func (c Config) ResultTimeout() time.Duration {
	return time.Duration(c.ResultTimeoutS) * time.Second
}

func (c Config) DisplayDuration() time.Duration {
	return time.Duration(c.DisplayDurationS) * time.Second
}

func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownS) * time.Second
}

func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMin) * time.Minute
}

func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalS) * time.Second
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return n
}
