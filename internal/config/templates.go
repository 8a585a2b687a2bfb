package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindDaemon   = "daemon"
	KindPresence = "presence"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindDaemon:
		return daemonTemplate, nil
	case KindPresence:
		return presenceTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const daemonTemplate = `app_id = "000000000000000000"
steam_id = ""
auto_register = true

control_addr = "127.0.0.1:6473"
control_token = ""
cors_origins = ["http://localhost:3000"]

receive_interval = "1ms"
presence_interval = "5s"
dial_timeout = "1s"

reconnect = true
reconnect_initial_delay = "1s"
reconnect_max_delay = "1m"
breaker_failures = 5
breaker_cooldown = "30s"

ipc_dir = ""
initial_presence = ""
`

const presenceTemplate = `details = "Exploring"
state = "In a party"
type = "playing"
instance = true

[assets]
large_image = "map"
large_text = "World map"
small_image = "hero"
small_text = "Level 12"

[party]
id = "party-1"
size = 1
max = 4

[timestamps]
start_now = true

[secrets]
join = "join-secret"
spectate = "spectate-secret"

[[buttons]]
label = "Homepage"
url = "https://example.com"
`
