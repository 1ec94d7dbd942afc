// Package config loads the service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for all tunable settings. The quiet-window and retry values govern
// the cluster debounce protocol; see internal/debounce.
const (
	DefaultMeetingGapHours   = 4.0
	DefaultDebounceTTL       = 5 * time.Second
	DefaultRetryDelay        = 3 * time.Second
	DefaultMaxRetries        = 2
	DefaultProcessJobTimeout = 120 * time.Second
	DefaultClusterJobTimeout = 60 * time.Second
	DefaultThumbMaxEdge      = 512
	DefaultMaxUploadBytes    = 50 * 1024 * 1024
	DefaultListenAddr        = ":8080"
)

// Config carries every externally tunable setting. Handles to the database,
// Redis and storage root are passed explicitly so tests can inject fakes.
type Config struct {
	DatabaseURL string
	RedisAddr   string
	StorageRoot string
	ListenAddr  string

	// MeetingGapHours is the cluster boundary: adjacent photos further apart
	// than this gap start a new meeting.
	MeetingGapHours float64

	// DebounceTTL is the quiet window that must elapse after the last upload
	// before a cluster reconciliation runs.
	DebounceTTL time.Duration

	// RetryDelay is the lead time for the delayed cluster job, and the delay
	// used when the job finds the burst still in progress and reschedules.
	RetryDelay time.Duration

	// MaxRetries bounds how many times a cluster job may reschedule itself
	// before running anyway.
	MaxRetries int

	ProcessJobTimeout time.Duration
	ClusterJobTimeout time.Duration

	ThumbMaxEdge   int
	MaxUploadBytes int64
}

// Load reads the configuration from the environment. A .env file in the
// working directory is folded in first when present (local development).
// Missing DATABASE_URL, REDIS_ADDR or STORAGE_ROOT is a fatal error: the
// process cannot run without them.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		StorageRoot:       os.Getenv("STORAGE_ROOT"),
		ListenAddr:        envString("LISTEN_ADDR", DefaultListenAddr),
		MeetingGapHours:   DefaultMeetingGapHours,
		DebounceTTL:       DefaultDebounceTTL,
		RetryDelay:        DefaultRetryDelay,
		MaxRetries:        DefaultMaxRetries,
		ProcessJobTimeout: DefaultProcessJobTimeout,
		ClusterJobTimeout: DefaultClusterJobTimeout,
		ThumbMaxEdge:      DefaultThumbMaxEdge,
		MaxUploadBytes:    DefaultMaxUploadBytes,
	}

	var err error
	if cfg.MeetingGapHours, err = envFloat("MEETING_GAP_HOURS", cfg.MeetingGapHours); err != nil {
		return nil, err
	}
	if cfg.DebounceTTL, err = envSeconds("CLUSTER_DEBOUNCE_TTL", cfg.DebounceTTL); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = envSeconds("CLUSTER_RETRY_DELAY", cfg.RetryDelay); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = envInt("CLUSTER_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.ProcessJobTimeout, err = envSeconds("PROCESS_JOB_TIMEOUT", cfg.ProcessJobTimeout); err != nil {
		return nil, err
	}
	if cfg.ClusterJobTimeout, err = envSeconds("CLUSTER_JOB_TIMEOUT", cfg.ClusterJobTimeout); err != nil {
		return nil, err
	}
	if cfg.ThumbMaxEdge, err = envInt("THUMB_MAX_EDGE", cfg.ThumbMaxEdge); err != nil {
		return nil, err
	}
	maxUpload, err := envInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes))
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	return cfg, cfg.Validate()
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("STORAGE_ROOT is required")
	}
	if c.MeetingGapHours <= 0 {
		return fmt.Errorf("MEETING_GAP_HOURS must be positive, got %v", c.MeetingGapHours)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("CLUSTER_MAX_RETRIES must be non-negative, got %d", c.MaxRetries)
	}
	if c.ThumbMaxEdge <= 0 {
		return fmt.Errorf("THUMB_MAX_EDGE must be positive, got %d", c.ThumbMaxEdge)
	}
	return nil
}

// MeetingGap returns the cluster boundary gap as a duration.
func (c *Config) MeetingGap() time.Duration {
	return time.Duration(c.MeetingGapHours * float64(time.Hour))
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return time.Duration(n) * time.Second, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}
