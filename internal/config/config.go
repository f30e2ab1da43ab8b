// internal/config/config.go
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/simple-convert-tracker/internal/job"
)

type Config struct {
	APIURL          string
	NATSURL         string
	ProgressSubject string
	// ProgressEnabled turns the progress stream off for hosts without NATS.
	// Jobs then resolve through submit responses only.
	ProgressEnabled bool
	HTTPTimeout     time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	SoftCeiling     int
	StallThreshold  time.Duration
	SweepInterval   time.Duration
	ListenAddr      string
	Mode            job.Mode
	LogLevel        slog.Level
}

func Load() (Config, error) {
	cfg := Config{
		APIURL:          strings.TrimRight(getenv("CONVERT_API_URL", "http://localhost:8000"), "/"),
		NATSURL:         getenv("NATS_URL", "nats://127.0.0.1:4222"),
		ProgressSubject: getenv("PROGRESS_SUBJECT", "conversion.progress"),
		ProgressEnabled: getenvBool("PROGRESS_STREAM", true),
		ListenAddr:      getenv("LISTEN_ADDR", "127.0.0.1:8089"),
	}

	var err error
	if cfg.HTTPTimeout, err = parseDuration(getenv("HTTP_TIMEOUT", "10m"), "HTTP_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.BackoffInitial, err = parseDuration(getenv("STREAM_BACKOFF_INITIAL", "500ms"), "STREAM_BACKOFF_INITIAL"); err != nil {
		return Config{}, err
	}
	if cfg.BackoffMax, err = parseDuration(getenv("STREAM_BACKOFF_MAX", "30s"), "STREAM_BACKOFF_MAX"); err != nil {
		return Config{}, err
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		return Config{}, fmt.Errorf("STREAM_BACKOFF_MAX (%s) must not be below STREAM_BACKOFF_INITIAL (%s)", cfg.BackoffMax, cfg.BackoffInitial)
	}
	if cfg.SoftCeiling, err = parsePositiveInt(getenv("STREAM_SOFT_CEILING", "5"), "STREAM_SOFT_CEILING"); err != nil {
		return Config{}, err
	}
	if cfg.StallThreshold, err = parseDuration(getenv("STALL_THRESHOLD", "30s"), "STALL_THRESHOLD"); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = parseDuration(getenv("SWEEP_INTERVAL", "5s"), "SWEEP_INTERVAL"); err != nil {
		return Config{}, err
	}
	if cfg.Mode, err = job.ParseMode(getenv("CONVERT_MODE", string(job.ModeStandard))); err != nil {
		return Config{}, fmt.Errorf("invalid CONVERT_MODE: %w", err)
	}
	if cfg.LogLevel, err = ParseLevel(getenv("LOG_LEVEL", "info")); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return l, nil
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parseDuration(value string, name string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %s)", name, d)
	}
	return d, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}
