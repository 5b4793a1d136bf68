package gatekit

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config controls how the SDK connects.
type Config struct {
	// URL is the realtime websocket endpoint, e.g. "wss://host/live".
	URL string

	// APIBaseURL is the base URL of the Ticket API, e.g. "https://host/api".
	APIBaseURL string

	// Device identifies this installation in the auth handshake. Defaults
	// to a random UUID per process.
	Device string

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration

	// ReconnectBase is the backoff delay at attempt zero; each subsequent
	// attempt doubles it.
	ReconnectBase time.Duration

	// MaxReconnectTries caps reconnection attempts before the session
	// settles at Disconnected.
	MaxReconnectTries int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Device:            uuid.NewString(),
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReconnectBase:     time.Second,
		MaxReconnectTries: 5,
	}
}

// ConfigFromEnv builds a Config from the environment, loading a .env file
// first if one is present. Unset variables keep their defaults.
//
//	GATEKIT_WS_URL             websocket endpoint (required)
//	GATEKIT_API_URL            Ticket API base URL (required)
//	GATEKIT_DEVICE_ID          device identifier
//	GATEKIT_HANDSHAKE_TIMEOUT  duration, e.g. "10s"
//	GATEKIT_RECONNECT_BASE     duration, e.g. "1s"
//	GATEKIT_MAX_RECONNECTS     integer
func ConfigFromEnv() (Config, error) {
	const op = "gatekit.ConfigFromEnv"

	_ = godotenv.Load()

	cfg := DefaultConfig()

	cfg.URL = os.Getenv("GATEKIT_WS_URL")
	if cfg.URL == "" {
		return Config{}, fmt.Errorf("%s: missing GATEKIT_WS_URL", op)
	}

	cfg.APIBaseURL = os.Getenv("GATEKIT_API_URL")
	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("%s: missing GATEKIT_API_URL", op)
	}

	if v := os.Getenv("GATEKIT_DEVICE_ID"); v != "" {
		cfg.Device = v
	}

	if v := os.Getenv("GATEKIT_HANDSHAKE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: invalid GATEKIT_HANDSHAKE_TIMEOUT: %w", op, err)
		}
		cfg.HandshakeTimeout = d
	}

	if v := os.Getenv("GATEKIT_RECONNECT_BASE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: invalid GATEKIT_RECONNECT_BASE: %w", op, err)
		}
		cfg.ReconnectBase = d
	}

	if v := os.Getenv("GATEKIT_MAX_RECONNECTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("%s: invalid GATEKIT_MAX_RECONNECTS: %v", op, v)
		}
		cfg.MaxReconnectTries = n
	}

	return cfg, nil
}
