// Package config loads presence documents and renders starter config files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/presencectl/internal/presence"
	"github.com/pelletier/go-toml/v2"
)

// ActivityFile is the TOML shape of one presence document.
type ActivityFile struct {
	Details    string            `toml:"details"`
	State      string            `toml:"state"`
	Type       string            `toml:"type"`
	Instance   *bool             `toml:"instance"`
	Assets     presence.Assets   `toml:"assets"`
	Party      *PartyFile        `toml:"party"`
	Timestamps TimestampsFile    `toml:"timestamps"`
	Secrets    *presence.Secrets `toml:"secrets"`
	Buttons    []presence.Button `toml:"buttons"`
}

type PartyFile struct {
	ID   string `toml:"id"`
	Size int    `toml:"size"`
	Max  int    `toml:"max"`
}

type TimestampsFile struct {
	Start time.Time `toml:"start"`
	End   time.Time `toml:"end"`
	// StartNow stamps the load time as the start.
	StartNow bool `toml:"start_now"`
}

func LoadActivityFile(path string) (presence.Activity, error) {
	var raw ActivityFile
	if err := loadToml(path, &raw); err != nil {
		return presence.Activity{}, err
	}
	doc, err := raw.Activity(time.Now())
	if err != nil {
		return presence.Activity{}, fmt.Errorf("presence file invalid (%s): %w", path, err)
	}
	return doc, nil
}

func ParseActivity(data []byte) (presence.Activity, error) {
	var raw ActivityFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return presence.Activity{}, fmt.Errorf("presence parse failed: %w", err)
	}
	return raw.Activity(time.Now())
}

// Activity converts the file form into a presence document. now is used for start_now.
func (f ActivityFile) Activity(now time.Time) (presence.Activity, error) {
	doc := presence.NewActivity()
	doc.Details = strings.TrimSpace(f.Details)
	doc.State = strings.TrimSpace(f.State)
	if strings.TrimSpace(f.Type) != "" {
		t, err := presence.ParseActivityType(f.Type)
		if err != nil {
			return presence.Activity{}, err
		}
		doc.Type = t
	}
	if f.Instance != nil {
		doc.Instance = *f.Instance
	}
	doc.Assets = f.Assets
	if f.Party != nil {
		if f.Party.Size < 0 || f.Party.Max < 0 || (f.Party.Max > 0 && f.Party.Size > f.Party.Max) {
			return presence.Activity{}, fmt.Errorf("party size %d/%d out of range", f.Party.Size, f.Party.Max)
		}
		doc.Party = &presence.Party{ID: f.Party.ID, Size: f.Party.Size, Max: f.Party.Max}
	}
	switch {
	case f.Timestamps.StartNow:
		doc.Timestamps.SetStart(now)
	case !f.Timestamps.Start.IsZero():
		doc.Timestamps.SetStart(f.Timestamps.Start)
	}
	if !f.Timestamps.End.IsZero() {
		doc.Timestamps.SetEnd(f.Timestamps.End)
	}
	if f.Secrets != nil {
		s := *f.Secrets
		doc.Secrets = &s
	}
	for i, b := range f.Buttons {
		if strings.TrimSpace(b.Label) == "" || strings.TrimSpace(b.URL) == "" {
			return presence.Activity{}, fmt.Errorf("button[%d] requires label and url", i)
		}
	}
	doc.SetButtons(f.Buttons...)
	return doc, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
