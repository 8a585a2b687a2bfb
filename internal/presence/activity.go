package presence

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// MaxButtons is the number of action buttons the companion app renders.
const MaxButtons = 2

// ActivityType is the verb shown in front of the activity name.
type ActivityType int

const (
	ActivityPlaying ActivityType = iota
	ActivityStreaming
	ActivityListening
	ActivityWatching
	ActivityCustom
	ActivityCompeting
)

var activityTypeNames = []string{"playing", "streaming", "listening", "watching", "custom", "competing"}

func (t ActivityType) String() string {
	if t < 0 || int(t) >= len(activityTypeNames) {
		return fmt.Sprintf("activity(%d)", int(t))
	}
	return activityTypeNames[t]
}

// ParseActivityType accepts either the lowercase name or the numeric value.
func ParseActivityType(raw string) (ActivityType, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	for i, name := range activityTypeNames {
		if v == name || v == fmt.Sprint(i) {
			return ActivityType(i), nil
		}
	}
	return ActivityPlaying, fmt.Errorf("presence: unknown activity type %q", raw)
}

// Activity is one rich-presence document. It is a value type: Clone before sharing.
// Build documents with NewActivity; the zero value is not instanced.
type Activity struct {
	Details    string
	State      string
	Type       ActivityType
	Assets     Assets
	Party      *Party
	Timestamps Timestamps
	Secrets    *Secrets
	Instance   bool

	buttons []Button
}

type Assets struct {
	LargeImage string `json:"large_image,omitempty" toml:"large_image"`
	LargeText  string `json:"large_text,omitempty" toml:"large_text"`
	SmallImage string `json:"small_image,omitempty" toml:"small_image"`
	SmallText  string `json:"small_text,omitempty" toml:"small_text"`
}

func (a Assets) empty() bool {
	return a == Assets{}
}

// Party describes the group the user is in. Size is sent as [Size, Max] once Max is set,
// so an empty party of a known capacity keeps its size.
type Party struct {
	ID   string
	Size int
	Max  int
}

func (p Party) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID   string `json:"id,omitempty"`
		Size []int  `json:"size,omitempty"`
	}
	out := wire{ID: p.ID}
	if p.Max > 0 && p.Size >= 0 {
		out.Size = []int{p.Size, p.Max}
	}
	return json.Marshal(out)
}

func (p *Party) UnmarshalJSON(b []byte) error {
	var in struct {
		ID   string `json:"id"`
		Size []int  `json:"size"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	p.ID = in.ID
	if len(in.Size) == 2 {
		p.Size, p.Max = in.Size[0], in.Size[1]
	}
	return nil
}

// Timestamps are kept at whole-second resolution; the companion app rejects fractional values.
type Timestamps struct {
	start time.Time
	end   time.Time
}

func (t *Timestamps) SetStart(at time.Time) { t.start = roundSecond(at) }
func (t *Timestamps) SetEnd(at time.Time)   { t.end = roundSecond(at) }
func (t Timestamps) Start() time.Time       { return t.start }
func (t Timestamps) End() time.Time         { return t.end }

func (t Timestamps) empty() bool {
	return t.start.IsZero() && t.end.IsZero()
}

func (t Timestamps) MarshalJSON() ([]byte, error) {
	type wire struct {
		Start int64 `json:"start,omitempty"`
		End   int64 `json:"end,omitempty"`
	}
	var out wire
	if !t.start.IsZero() {
		out.Start = t.start.Unix()
	}
	if !t.end.IsZero() {
		out.End = t.end.Unix()
	}
	return json.Marshal(out)
}

func (t *Timestamps) UnmarshalJSON(b []byte) error {
	var in struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*t = Timestamps{}
	if in.Start > 0 {
		t.start = time.Unix(in.Start, 0)
	}
	if in.End > 0 {
		t.end = time.Unix(in.End, 0)
	}
	return nil
}

func roundSecond(at time.Time) time.Time {
	if at.IsZero() {
		return time.Time{}
	}
	return at.Round(time.Second)
}

type Secrets struct {
	Join     string `json:"join,omitempty" toml:"join"`
	Match    string `json:"match,omitempty" toml:"match"`
	Spectate string `json:"spectate,omitempty" toml:"spectate"`
}

type Button struct {
	Label string `json:"label" toml:"label"`
	URL   string `json:"url" toml:"url"`
}

// NewActivity returns a document with the companion app's defaults: playing, instanced.
func NewActivity() Activity {
	return Activity{
		Type:     ActivityPlaying,
		Instance: true,
	}
}

// SetButtons stores at most MaxButtons buttons; the rest are dropped in order.
func (a *Activity) SetButtons(buttons ...Button) {
	if len(buttons) > MaxButtons {
		log.Debug().Msgf("presence.Activity buttons=%d truncated to %d", len(buttons), MaxButtons)
		buttons = buttons[:MaxButtons]
	}
	a.buttons = append([]Button(nil), buttons...)
}

func (a Activity) Buttons() []Button {
	return append([]Button(nil), a.buttons...)
}

// Clone deep-copies every reference field.
func (a Activity) Clone() Activity {
	out := a
	if a.Party != nil {
		p := *a.Party
		out.Party = &p
	}
	if a.Secrets != nil {
		s := *a.Secrets
		out.Secrets = &s
	}
	out.buttons = a.Buttons()
	return out
}

type activityWire struct {
	Details    string       `json:"details,omitempty"`
	State      string       `json:"state,omitempty"`
	Type       ActivityType `json:"type"`
	Assets     *Assets      `json:"assets,omitempty"`
	Party      *Party       `json:"party,omitempty"`
	Timestamps *Timestamps  `json:"timestamps,omitempty"`
	Secrets    *Secrets     `json:"secrets,omitempty"`
	Buttons    []Button     `json:"buttons,omitempty"`
	Instance   *bool        `json:"instance,omitempty"`
}

func (a Activity) MarshalJSON() ([]byte, error) {
	instance := a.Instance
	out := activityWire{
		Details:  a.Details,
		State:    a.State,
		Type:     a.Type,
		Party:    a.Party,
		Secrets:  a.Secrets,
		Buttons:  a.buttons,
		Instance: &instance,
	}
	if !a.Assets.empty() {
		assets := a.Assets
		out.Assets = &assets
	}
	if !a.Timestamps.empty() {
		ts := a.Timestamps
		out.Timestamps = &ts
	}
	return json.Marshal(out)
}

// UnmarshalJSON applies NewActivity defaults for absent fields and enforces the button cap.
func (a *Activity) UnmarshalJSON(b []byte) error {
	var in activityWire
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	out := NewActivity()
	out.Details = in.Details
	out.State = in.State
	out.Type = in.Type
	out.Party = in.Party
	out.Secrets = in.Secrets
	if in.Assets != nil {
		out.Assets = *in.Assets
	}
	if in.Timestamps != nil {
		out.Timestamps = *in.Timestamps
	}
	if in.Instance != nil {
		out.Instance = *in.Instance
	}
	out.SetButtons(in.Buttons...)
	*a = out
	return nil
}
