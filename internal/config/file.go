package config

import (
	"fmt"
	"time"
)

// fileConfig is the on-disk TOML shape. Durations are strings ("5s") and
// absent keys leave the defaults untouched.
type fileConfig struct {
	BaseURL  *string `toml:"base_url"`
	WSURL    *string `toml:"ws_url"`
	PlayerID *string `toml:"player_id"`
	Password *string `toml:"password"`

	HTTPTimeout  *string `toml:"http_timeout"`
	DialTimeout  *string `toml:"dial_timeout"`
	PingInterval *string `toml:"ping_interval"`

	Reconnect struct {
		MaxAttempts *int     `toml:"max_attempts"`
		Delay       *string  `toml:"delay"`
		MaxDelay    *string  `toml:"max_delay"`
		Multiplier  *float64 `toml:"multiplier"`
		Jitter      *bool    `toml:"jitter"`
	} `toml:"reconnect"`

	MaxProtocolFaults *int `toml:"max_protocol_faults"`

	RedisURL     *string `toml:"redis_url"`
	DatabaseURL  *string `toml:"database_url"`
	SnapshotPath *string `toml:"snapshot_path"`
	MessagesDir  *string `toml:"messages_dir"`
}

func (f *fileConfig) apply(cfg *AppConfig) error {
	for _, s := range []struct {
		src *string
		dst *string
	}{
		{f.BaseURL, &cfg.BaseURL},
		{f.WSURL, &cfg.WSURL},
		{f.PlayerID, &cfg.PlayerID},
		{f.Password, &cfg.Password},
		{f.RedisURL, &cfg.RedisURL},
		{f.DatabaseURL, &cfg.DatabaseURL},
		{f.SnapshotPath, &cfg.SnapshotPath},
		{f.MessagesDir, &cfg.MessagesDir},
	} {
		if s.src != nil {
			*s.dst = *s.src
		}
	}

	for name, d := range map[string]struct {
		src *string
		dst *time.Duration
	}{
		"http_timeout":        {f.HTTPTimeout, &cfg.HTTPTimeout},
		"dial_timeout":        {f.DialTimeout, &cfg.DialTimeout},
		"ping_interval":       {f.PingInterval, &cfg.PingInterval},
		"reconnect.delay":     {f.Reconnect.Delay, &cfg.ReconnectDelay},
		"reconnect.max_delay": {f.Reconnect.MaxDelay, &cfg.ReconnectMaxDelay},
	} {
		if d.src == nil {
			continue
		}
		v, err := parseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
		*d.dst = v
	}

	if f.Reconnect.MaxAttempts != nil {
		if *f.Reconnect.MaxAttempts < 0 {
			return fmt.Errorf("config reconnect.max_attempts must not be negative")
		}
		cfg.ReconnectMaxAttempts = *f.Reconnect.MaxAttempts
	}
	if f.Reconnect.Multiplier != nil {
		cfg.ReconnectMultiplier = *f.Reconnect.Multiplier
	}
	if f.Reconnect.Jitter != nil {
		cfg.ReconnectJitter = *f.Reconnect.Jitter
	}
	if f.MaxProtocolFaults != nil && *f.MaxProtocolFaults > 0 {
		cfg.MaxProtocolFaults = *f.MaxProtocolFaults
	}
	return nil
}
