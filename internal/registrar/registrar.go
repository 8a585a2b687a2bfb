// Package registrar tells the host OS how to launch the application from a
// companion app invite link (discord-<appid>:// or a Steam game id).
package registrar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/presencectl/internal/tools"
	"github.com/rs/zerolog/log"
)

var (
	ErrAppIDRequired   = errors.New("registrar: app id required")
	ErrSteamIDRequired = errors.New("registrar: steam id required")
)

const commandTimeout = 5 * time.Second

// Registrar registers the URL handler for one application.
type Registrar interface {
	Register(appID, steamID string) error
}

// ForPlatform picks the registrar for goos. Unsupported platforms get Nop.
func ForPlatform(goos, home string, runner tools.CommandRunner) Registrar {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return XDG{Home: home, Runner: runner}
	case "darwin":
		return SteamGames{Home: home}
	default:
		return Nop{}
	}
}

// Nop registers nothing.
type Nop struct{}

func (Nop) Register(string, string) error { return nil }

// XDG writes a hidden desktop entry under ~/.local/share/applications and makes
// it the default handler for x-scheme-handler/discord-<appid>.
type XDG struct {
	Home string
	// Executable resolves the launch binary when no steam id is given.
	Executable func() (string, error)
	Runner     tools.CommandRunner
}

func (x XDG) Register(appID, steamID string) error {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return ErrAppIDRequired
	}
	execPath, err := x.execLine(strings.TrimSpace(steamID))
	if err != nil {
		return fmt.Errorf("registrar: resolve executable: %w", err)
	}

	name := DesktopFileName(appID)
	path := filepath.Join(x.Home, ".local", "share", "applications", name)
	if err := writeFile(path, []byte(DesktopEntry(appID, execPath))); err != nil {
		return err
	}
	log.Debug().Msgf("registrar.XDG wrote desktop entry path=%s", path)

	runner := x.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	res, err := runner.Run(ctx, "xdg-mime", "default", name, SchemeHandler(appID))
	if err != nil {
		return fmt.Errorf("registrar: xdg-mime exit=%d stderr=%q: %w", res.ExitCode, strings.TrimSpace(string(res.Stderr)), err)
	}
	return nil
}

func (x XDG) execLine(steamID string) (string, error) {
	if steamID != "" {
		return "xdg-open " + SteamURL(steamID), nil
	}
	resolve := x.Executable
	if resolve == nil {
		resolve = os.Executable
	}
	return resolve()
}

// SteamGames writes <home>/Library/Application Support/discord/games/<appid>.json
// so the companion app launches the game through Steam.
type SteamGames struct {
	Home string
}

func (s SteamGames) Register(appID, steamID string) error {
	appID = strings.TrimSpace(appID)
	steamID = strings.TrimSpace(steamID)
	if appID == "" {
		return ErrAppIDRequired
	}
	if steamID == "" {
		return ErrSteamIDRequired
	}
	body, err := json.MarshalIndent(map[string]string{"command": SteamURL(steamID)}, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.Home, "Library", "Application Support", "discord", "games", appID+".json")
	if err := writeFile(path, append(body, '\n')); err != nil {
		return err
	}
	log.Debug().Msgf("registrar.SteamGames wrote launch file path=%s", path)
	return nil
}

func DesktopFileName(appID string) string {
	return "discord-" + appID + ".desktop"
}

func SchemeHandler(appID string) string {
	return "x-scheme-handler/discord-" + appID
}

func SteamURL(steamID string) string {
	return "steam://rungameid/" + steamID
}

func DesktopEntry(appID, execPath string) string {
	return fmt.Sprintf(`[Desktop Entry]
Name=Game %s
Exec=%s %%u
Type=Application
NoDisplay=true
Categories=Discord;Games;
MimeType=%s
`, appID, execPath, SchemeHandler(appID))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("registrar: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("registrar: write %s: %w", path, err)
	}
	return nil
}
