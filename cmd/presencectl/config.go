package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/presencectl/internal/daemon"
)

type fileConfig struct {
	AppID        string `toml:"app_id"`
	SteamID      string `toml:"steam_id"`
	AutoRegister bool   `toml:"auto_register"`

	ControlAddr  string   `toml:"control_addr"`
	ControlToken string   `toml:"control_token"`
	CORSOrigins  []string `toml:"cors_origins"`

	ReceiveInterval  string `toml:"receive_interval"`
	PresenceInterval string `toml:"presence_interval"`
	DialTimeout      string `toml:"dial_timeout"`

	Reconnect             bool   `toml:"reconnect"`
	ReconnectInitialDelay string `toml:"reconnect_initial_delay"`
	ReconnectMaxDelay     string `toml:"reconnect_max_delay"`
	BreakerFailures       int64  `toml:"breaker_failures"`
	BreakerCooldown       string `toml:"breaker_cooldown"`

	IPCDir          string `toml:"ipc_dir"`
	InitialPresence string `toml:"initial_presence"`
	Heartbeat       string `toml:"heartbeat_interval"`
}

func loadServiceConfig(path string) (daemon.ServiceConfig, error) {
	cfg := daemon.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemon.ServiceConfig{}, fmt.Errorf("load daemon config: %w", err)
	}

	if meta.IsDefined("app_id") {
		cfg.AppID = strings.TrimSpace(raw.AppID)
	}
	if meta.IsDefined("steam_id") {
		cfg.SteamID = strings.TrimSpace(raw.SteamID)
	}
	if meta.IsDefined("auto_register") {
		cfg.AutoRegister = raw.AutoRegister
	}
	if meta.IsDefined("control_addr") {
		if addr := strings.TrimSpace(raw.ControlAddr); addr != "" {
			cfg.Control.Addr = addr
		}
	}
	if meta.IsDefined("control_token") {
		cfg.Control.Token = strings.TrimSpace(raw.ControlToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.Control.CORSOrigins = normalizeList(raw.CORSOrigins)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"receive_interval", raw.ReceiveInterval, &cfg.Session.ReceiveInterval},
		{"presence_interval", raw.PresenceInterval, &cfg.Session.PresenceInterval},
		{"dial_timeout", raw.DialTimeout, &cfg.Session.DialTimeout},
		{"reconnect_initial_delay", raw.ReconnectInitialDelay, &cfg.Session.Backoff.InitialDelay},
		{"reconnect_max_delay", raw.ReconnectMaxDelay, &cfg.Session.Backoff.MaxDelay},
		{"breaker_cooldown", raw.BreakerCooldown, &cfg.BreakerCooldown},
		{"heartbeat_interval", raw.Heartbeat, &cfg.HeartbeatInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return daemon.ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		if v <= 0 {
			return daemon.ServiceConfig{}, fmt.Errorf("parse %s: must be positive", d.key)
		}
		*d.dst = v
	}

	if meta.IsDefined("reconnect") {
		cfg.Reconnect = raw.Reconnect
	}
	if meta.IsDefined("breaker_failures") {
		if raw.BreakerFailures <= 0 {
			return daemon.ServiceConfig{}, fmt.Errorf("parse breaker_failures: must be positive")
		}
		cfg.BreakerFailures = uint32(raw.BreakerFailures)
	}
	if meta.IsDefined("ipc_dir") {
		cfg.IPCDir = strings.TrimSpace(raw.IPCDir)
	}
	if meta.IsDefined("initial_presence") {
		cfg.InitialPresence = strings.TrimSpace(raw.InitialPresence)
		if cfg.InitialPresence != "" && !filepath.IsAbs(cfg.InitialPresence) {
			cfg.InitialPresence = filepath.Join(filepath.Dir(path), cfg.InitialPresence)
		}
	}

	if err := cfg.Session.Validate(); err != nil {
		return daemon.ServiceConfig{}, err
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
