package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type AppConfig struct {
	BaseURL string
	WSURL   string

	PlayerID string
	Password string

	HTTPTimeout  time.Duration
	DialTimeout  time.Duration
	PingInterval time.Duration

	ReconnectMaxAttempts int
	ReconnectDelay       time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMultiplier  float64
	ReconnectJitter      bool

	MaxProtocolFaults int

	RedisURL    string
	DatabaseURL string

	SnapshotPath string
	MessagesDir  string
}

func defaults() *AppConfig {
	return &AppConfig{
		HTTPTimeout:          10 * time.Second,
		DialTimeout:          10 * time.Second,
		PingInterval:         30 * time.Second,
		ReconnectMaxAttempts: 10,
		ReconnectDelay:       5 * time.Second,
		ReconnectMaxDelay:    time.Minute,
		ReconnectMultiplier:  2.0,
		MaxProtocolFaults:    5,
	}
}

// Load reads the optional TOML file named by CHESSLINK_CONFIG and then applies
// environment overrides.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CHESSLINK_CONFIG")); path != "" {
		if err := loadToml(path, cfg); err != nil {
			return nil, err
		}
	}

	setString(&cfg.BaseURL, "CHESSLINK_BASE_URL")
	setString(&cfg.WSURL, "CHESSLINK_WS_URL")
	setString(&cfg.PlayerID, "CHESSLINK_PLAYER_ID")
	setString(&cfg.Password, "CHESSLINK_PASSWORD")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.SnapshotPath, "CHESSLINK_SNAPSHOT_PATH")
	setString(&cfg.MessagesDir, "CHESSLINK_MESSAGES_DIR")

	setDuration(&cfg.HTTPTimeout, "CHESSLINK_HTTP_TIMEOUT")
	setDuration(&cfg.DialTimeout, "CHESSLINK_DIAL_TIMEOUT")
	setDuration(&cfg.PingInterval, "CHESSLINK_PING_INTERVAL")
	setDuration(&cfg.ReconnectDelay, "CHESSLINK_RECONNECT_DELAY")
	setDuration(&cfg.ReconnectMaxDelay, "CHESSLINK_RECONNECT_MAX_DELAY")

	// 0 means retry forever
	if v := strings.TrimSpace(os.Getenv("CHESSLINK_RECONNECT_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ReconnectMaxAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHESSLINK_RECONNECT_MULTIPLIER")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1 {
			cfg.ReconnectMultiplier = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHESSLINK_RECONNECT_JITTER")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ReconnectJitter = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHESSLINK_MAX_PROTOCOL_FAULTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxProtocolFaults = n
		}
	}

	if cfg.WSURL == "" && cfg.BaseURL != "" {
		ws, err := DeriveWSURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		cfg.WSURL = ws
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Validate(cfg *AppConfig) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return errors.New("CHESSLINK_BASE_URL is required")
	}
	if strings.TrimSpace(cfg.PlayerID) == "" {
		return errors.New("CHESSLINK_PLAYER_ID is required")
	}
	if cfg.ReconnectMultiplier < 1 {
		return fmt.Errorf("reconnect multiplier must be >= 1, got %v", cfg.ReconnectMultiplier)
	}
	if cfg.ReconnectDelay < 0 || cfg.ReconnectMaxDelay < 0 {
		return errors.New("reconnect delays must not be negative")
	}
	return nil
}

// DeriveWSURL maps http(s)://host to ws(s)://host.
func DeriveWSURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme: %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	return u.String(), nil
}

func loadToml(path string, out *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return raw.apply(out)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// setDuration accepts Go durations ("750ms", "5s") or plain seconds.
func setDuration(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := parseDuration(v); err == nil {
		*dst = d
	}
}

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
