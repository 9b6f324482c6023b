package livekit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// buildAPIToken signs a short-lived HS256 access token carrying roomList
// and roomAdmin grants for the room-service API.
func buildAPIToken(cfg Config, room string, now time.Time) (string, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return "", fmt.Errorf("missing livekit api credentials")
	}

	header := map[string]string{
		"alg": "HS256",
		"typ": "JWT",
	}
	payload := map[string]any{
		"iss": cfg.APIKey,
		"sub": "handoff-bridge",
		"nbf": now.Add(-10 * time.Second).Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"video": map[string]any{
			"roomList":  true,
			"roomAdmin": true,
			"room":      room,
		},
	}

	headerRaw, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(headerRaw) + "." + base64.RawURLEncoding.EncodeToString(payloadRaw)

	mac := hmac.New(sha256.New, []byte(cfg.APISecret))
	if _, err := mac.Write([]byte(unsigned)); err != nil {
		return "", err
	}
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return unsigned + "." + signature, nil
}
