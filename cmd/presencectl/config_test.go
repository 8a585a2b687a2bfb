package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/presencectl/internal/config"
	"github.com/danmuck/presencectl/internal/daemon"
	"github.com/danmuck/presencectl/internal/testutil/testlog"
)

func TestLoadServiceConfigExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AppID != "383226320970055681" {
		t.Fatalf("unexpected app id: %q", cfg.AppID)
	}
	if cfg.AutoRegister {
		t.Fatalf("expected auto_register disabled")
	}
	if cfg.Control.Addr != "127.0.0.1:6473" || cfg.Control.Token != "change-me" {
		t.Fatalf("unexpected control config: %+v", cfg.Control)
	}
	if len(cfg.Control.CORSOrigins) != 1 || cfg.Control.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %v", cfg.Control.CORSOrigins)
	}
	if cfg.Session.ReceiveInterval != time.Millisecond || cfg.Session.PresenceInterval != 5*time.Second {
		t.Fatalf("unexpected intervals: %+v", cfg.Session)
	}
	if cfg.Session.DialTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected dial timeout: %v", cfg.Session.DialTimeout)
	}
	if cfg.Session.Backoff.InitialDelay != 2*time.Second || cfg.Session.Backoff.MaxDelay != 30*time.Second {
		t.Fatalf("unexpected backoff: %+v", cfg.Session.Backoff)
	}
	if !cfg.Reconnect || cfg.BreakerFailures != 4 || cfg.BreakerCooldown != 45*time.Second {
		t.Fatalf("unexpected supervisor config: reconnect=%t failures=%d cooldown=%v",
			cfg.Reconnect, cfg.BreakerFailures, cfg.BreakerCooldown)
	}
	if cfg.InitialPresence != "presence.toml" {
		t.Fatalf("expected initial presence resolved next to config, got %q", cfg.InitialPresence)
	}
	if cfg.HeartbeatInterval != daemon.DefaultServiceConfig().HeartbeatInterval {
		t.Fatalf("undefined keys must keep defaults, heartbeat=%v", cfg.HeartbeatInterval)
	}
}

func TestLoadServiceConfigTemplateKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "presencectl.toml")
	if err := config.WriteTemplate(path, config.KindDaemon, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := daemon.DefaultServiceConfig()
	if cfg.Session.PresenceInterval != def.Session.PresenceInterval || cfg.BreakerFailures != def.BreakerFailures {
		t.Fatalf("template drifted from defaults: %+v", cfg)
	}
	if cfg.IPCDir != "" || cfg.InitialPresence != "" {
		t.Fatalf("empty paths must stay empty: ipc_dir=%q initial_presence=%q", cfg.IPCDir, cfg.InitialPresence)
	}
}

func TestLoadServiceConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration":      `presence_interval = "soon"`,
		"negative duration": `dial_timeout = "-1s"`,
		"zero failures":     `breaker_failures = 0`,
		"max below initial": "reconnect_initial_delay = \"10s\"\nreconnect_max_delay = \"1s\"",
		"not toml":          `app_id = `,
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "bad.toml")
		if err := os.WriteFile(path, []byte(body+"\n"), 0o600); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}
		if _, err := loadServiceConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadServiceConfigAbsolutePresencePath(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	abs := filepath.Join(dir, "elsewhere", "p.toml")
	path := filepath.Join(dir, "c.toml")
	body := "app_id = \"1\"\ninitial_presence = \"" + filepath.ToSlash(abs) + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.HasSuffix(filepath.ToSlash(cfg.InitialPresence), "elsewhere/p.toml") || !filepath.IsAbs(cfg.InitialPresence) {
		t.Fatalf("absolute initial presence must be kept, got %q", cfg.InitialPresence)
	}
}
