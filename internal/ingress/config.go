package ingress

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	EnvListenAddr   = "HANDOFF_WEBHOOK_LISTEN_ADDR"
	EnvWebhookPath  = "HANDOFF_WEBHOOK_PATH"
	EnvMaxBodyBytes = "HANDOFF_WEBHOOK_MAX_BODY_BYTES"
	EnvVoicePath    = "HANDOFF_VOICE_WEBHOOK_PATH"
	EnvGatewayURL   = "HANDOFF_GATEWAY_URL"
	EnvGatewayToken = "HANDOFF_GATEWAY_TOKEN"
)

const (
	defaultListenAddr   = ":8080"
	defaultWebhookPath  = "/webhook"
	defaultVoicePath    = "/livekit/webhook"
	defaultMaxBodyBytes = 16 << 20
)

// Config controls the webhook listener and the optional gateway client.
type Config struct {
	ListenAddr   string
	Path         string
	VoicePath    string
	MaxBodyBytes int64
	GatewayURL   string
	GatewayToken string
}

// ConfigFromEnv loads ingress settings from HANDOFF_WEBHOOK_* and
// HANDOFF_GATEWAY_* variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:   defaultString(strings.TrimSpace(os.Getenv(EnvListenAddr)), defaultListenAddr),
		Path:         defaultString(strings.TrimSpace(os.Getenv(EnvWebhookPath)), defaultWebhookPath),
		VoicePath:    defaultString(strings.TrimSpace(os.Getenv(EnvVoicePath)), defaultVoicePath),
		MaxBodyBytes: defaultMaxBodyBytes,
		GatewayURL:   strings.TrimSpace(os.Getenv(EnvGatewayURL)),
		GatewayToken: strings.TrimSpace(os.Getenv(EnvGatewayToken)),
	}
	if raw := strings.TrimSpace(os.Getenv(EnvMaxBodyBytes)); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvMaxBodyBytes, err)
		}
		cfg.MaxBodyBytes = v
	}
	return cfg, cfg.Validate()
}

// Validate enforces ingress config invariants.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("webhook path must begin with /")
	}
	if !strings.HasPrefix(c.VoicePath, "/") {
		return fmt.Errorf("voice webhook path must begin with /")
	}
	if c.VoicePath == c.Path {
		return fmt.Errorf("voice webhook path must differ from the message webhook path")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be >0")
	}
	if c.GatewayURL != "" && !strings.HasPrefix(c.GatewayURL, "ws") {
		return fmt.Errorf("gateway url must use a ws:// or wss:// scheme")
	}
	return nil
}

func defaultString(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
