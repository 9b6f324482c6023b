package livekit

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvURL              = "HANDOFF_LIVEKIT_URL"
	EnvAPIKey           = "HANDOFF_LIVEKIT_API_KEY"
	EnvAPISecret        = "HANDOFF_LIVEKIT_API_SECRET"
	EnvRoomPrefix       = "HANDOFF_LIVEKIT_ROOM_PREFIX"
	EnvTopic            = "HANDOFF_LIVEKIT_TOPIC"
	EnvRequestTimeoutMS = "HANDOFF_LIVEKIT_REQUEST_TIMEOUT_MS"
)

const (
	defaultRoomPrefix     = "voice-"
	defaultTopic          = "analysis_result"
	defaultRequestTimeout = 5 * time.Second
)

// Config controls the room-service client and the room naming convention.
type Config struct {
	URL            string
	APIKey         string
	APISecret      string
	RoomPrefix     string
	Topic          string
	RequestTimeout time.Duration
}

// ConfigFromEnv loads LiveKit settings from HANDOFF_LIVEKIT_* variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:            strings.TrimSpace(os.Getenv(EnvURL)),
		APIKey:         strings.TrimSpace(os.Getenv(EnvAPIKey)),
		APISecret:      strings.TrimSpace(os.Getenv(EnvAPISecret)),
		RoomPrefix:     defaultString(strings.TrimSpace(os.Getenv(EnvRoomPrefix)), defaultRoomPrefix),
		Topic:          defaultString(strings.TrimSpace(os.Getenv(EnvTopic)), defaultTopic),
		RequestTimeout: defaultRequestTimeout,
	}
	if raw := strings.TrimSpace(os.Getenv(EnvRequestTimeoutMS)); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvRequestTimeoutMS, err)
		}
		cfg.RequestTimeout = time.Duration(v) * time.Millisecond
	}
	return cfg, cfg.Validate()
}

// Validate enforces client config invariants.
func (c Config) Validate() error {
	if c.URL == "" || c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("livekit url/api credentials are required")
	}
	if c.RoomPrefix == "" {
		return fmt.Errorf("room_prefix is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be >0")
	}
	return nil
}

func defaultString(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
