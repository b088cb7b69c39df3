package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string
	AdminAddr  string

	AllowedOrigins []string

	RedisURL string

	SessionTTL    time.Duration
	SweepInterval time.Duration

	MinMatchInterval     time.Duration
	MaxQueueTime         time.Duration
	QueueCleanupInterval time.Duration
	QueueStatusInterval  time.Duration

	BotThinking bool

	MessagesDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:           ":8080",
		AdminAddr:            ":8081",
		SessionTTL:           4 * time.Hour,
		SweepInterval:        5 * time.Minute,
		MinMatchInterval:     time.Second,
		MaxQueueTime:         3 * time.Minute,
		QueueCleanupInterval: 30 * time.Second,
		QueueStatusInterval:  5 * time.Second,
		BotThinking:          true,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	// ADMIN_ADDR=off disables the admin listener.
	if v := strings.TrimSpace(os.Getenv("ADMIN_ADDR")); v != "" {
		if strings.EqualFold(v, "off") {
			cfg.AdminAddr = ""
		} else {
			cfg.AdminAddr = v
		}
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("BOT_THINKING")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.BotThinking = b
		}
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"SESSION_TTL", &cfg.SessionTTL},
		{"SWEEP_INTERVAL", &cfg.SweepInterval},
		{"MIN_MATCH_INTERVAL", &cfg.MinMatchInterval},
		{"MAX_QUEUE_TIME", &cfg.MaxQueueTime},
		{"QUEUE_CLEANUP_INTERVAL", &cfg.QueueCleanupInterval},
		{"QUEUE_STATUS_INTERVAL", &cfg.QueueStatusInterval},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.env))
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	if cfg.ListenAddr == "" {
		return nil, errors.New("LISTEN_ADDR is required")
	}
	if cfg.SessionTTL <= 0 {
		return nil, errors.New("SESSION_TTL must be positive")
	}
	if cfg.QueueCleanupInterval <= 0 || cfg.QueueStatusInterval <= 0 || cfg.SweepInterval <= 0 {
		return nil, errors.New("intervals must be positive")
	}
	return cfg, nil
}

// parseDuration accepts Go durations ("90s", "4h") or bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", v)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return d, nil
}
