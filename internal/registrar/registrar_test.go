package registrar

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/presencectl/internal/testutil/testlog"
	"github.com/danmuck/presencectl/internal/tools"
	"github.com/rs/zerolog/log"
)

func TestXDGWritesDesktopEntryForSteam(t *testing.T) {
	testlog.Start(t)
	home := t.TempDir()
	runner := &tools.RecordingRunner{}
	r := XDG{Home: home, Runner: runner}

	if err := r.Register("1234", "570"); err != nil {
		t.Fatalf("register: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(home, ".local", "share", "applications", "discord-1234.desktop"))
	if err != nil {
		t.Fatalf("read desktop entry: %v", err)
	}
	entry := string(data)
	for _, want := range []string{
		"Name=Game 1234",
		"Exec=xdg-open steam://rungameid/570 %u",
		"NoDisplay=true",
		"MimeType=x-scheme-handler/discord-1234",
	} {
		if !strings.Contains(entry, want) {
			t.Fatalf("desktop entry missing %q:\n%s", want, entry)
		}
	}
	if len(runner.Calls) != 1 || runner.Calls[0] != "xdg-mime default discord-1234.desktop x-scheme-handler/discord-1234" {
		t.Fatalf("unexpected xdg-mime calls: %v", runner.Calls)
	}
	log.Info().Msgf("registrar/xdg: %s", runner.Calls[0])
}

func TestXDGUsesOwnExecutableWithoutSteam(t *testing.T) {
	testlog.Start(t)
	home := t.TempDir()
	r := XDG{
		Home:       home,
		Runner:     &tools.RecordingRunner{},
		Executable: func() (string, error) { return "/opt/game/bin/game", nil },
	}
	if err := r.Register("99", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(home, ".local", "share", "applications", "discord-99.desktop"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "Exec=/opt/game/bin/game %u") {
		t.Fatalf("unexpected exec line:\n%s", data)
	}
}

func TestXDGReportsCommandFailure(t *testing.T) {
	testlog.Start(t)
	runner := &tools.RecordingRunner{Result: tools.Result{ExitCode: 127}, Err: errors.New("not found")}
	r := XDG{Home: t.TempDir(), Runner: runner}
	if err := r.Register("1", "2"); err == nil {
		t.Fatalf("expected xdg-mime failure to surface")
	}
	if err := r.Register(" ", "2"); !errors.Is(err, ErrAppIDRequired) {
		t.Fatalf("expected ErrAppIDRequired, got %v", err)
	}
}

func TestSteamGamesWritesLaunchFile(t *testing.T) {
	testlog.Start(t)
	home := t.TempDir()
	r := SteamGames{Home: home}

	if err := r.Register("1234", ""); !errors.Is(err, ErrSteamIDRequired) {
		t.Fatalf("expected ErrSteamIDRequired, got %v", err)
	}
	if err := r.Register("1234", "570"); err != nil {
		t.Fatalf("register: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(home, "Library", "Application Support", "discord", "games", "1234.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var body map[string]string
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["command"] != "steam://rungameid/570" {
		t.Fatalf("unexpected launch file: %v", body)
	}
}

func TestForPlatform(t *testing.T) {
	testlog.Start(t)
	if _, ok := ForPlatform("linux", "/home/u", nil).(XDG); !ok {
		t.Fatalf("linux should use XDG")
	}
	if _, ok := ForPlatform("darwin", "/Users/u", nil).(SteamGames); !ok {
		t.Fatalf("darwin should use SteamGames")
	}
	if _, ok := ForPlatform("windows", `C:\Users\u`, nil).(Nop); !ok {
		t.Fatalf("windows should use Nop")
	}
	if err := (Nop{}).Register("", ""); err != nil {
		t.Fatalf("nop must never fail: %v", err)
	}
}
