// Package persona holds the bot's character: the role text, per-kind
// instructions, generation styles and the fallback pools.
package persona

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Kind string

const (
	KindBanter    Kind = "banter"
	KindQuestion  Kind = "question"
	KindWeather   Kind = "weather"
	KindSecondary Kind = "secondary"

	KindMorning Kind = "morning"
	KindNight   Kind = "night"
	KindRecap   Kind = "recap"
	KindWeekend Kind = "weekend"
	KindRandom  Kind = "random"
)

// LiveKinds are chosen for inbound messages, ProactiveKinds for scheduled ones.
var (
	LiveKinds      = []Kind{KindBanter, KindQuestion, KindWeather, KindSecondary}
	ProactiveKinds = []Kind{KindMorning, KindNight, KindRecap, KindWeekend, KindRandom}
)

func (k Kind) Proactive() bool {
	for _, p := range ProactiveKinds {
		if p == k {
			return true
		}
	}
	return false
}

type Style struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type Tags struct {
	Primary string `yaml:"primary"`
	Other   string `yaml:"other"`
}

type Persona struct {
	Name          string            `yaml:"name"`
	StartText     string            `yaml:"start_text"`
	Core          string            `yaml:"core"`
	Biography     string            `yaml:"biography"`
	Tones         map[string]string `yaml:"tones"`
	Tags          Tags              `yaml:"tags"`
	WeatherClause string            `yaml:"weather_clause"`
	QuietDay      string            `yaml:"quiet_day"`
	Prompts       map[Kind]string   `yaml:"prompts"`
	Styles        map[Kind]Style    `yaml:"styles"`
	Fallbacks     map[Kind][]string `yaml:"fallbacks"`
	Weekdays      []string          `yaml:"weekdays"`
	Dayparts      map[string]string `yaml:"dayparts"`
}

// Default returns the built-in persona.
func Default() *Persona {
	p, err := parse(defaultYAML, nil)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded default is invalid: %v", err))
	}
	return p
}

// Load reads a YAML file over the built-in persona. Keys absent from the file
// keep their default values; map entries are merged key by key. An empty path
// returns the default.
func Load(path string) (*Persona, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona: %w", err)
	}
	return parse(defaultYAML, data)
}

func parse(base, overlay []byte) (*Persona, error) {
	p := &Persona{}
	if err := yaml.Unmarshal(base, p); err != nil {
		return nil, fmt.Errorf("parse persona: %w", err)
	}
	if len(overlay) > 0 {
		if err := yaml.Unmarshal(overlay, p); err != nil {
			return nil, fmt.Errorf("parse persona: %w", err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Persona) Validate() error {
	if strings.TrimSpace(p.Core) == "" {
		return fmt.Errorf("persona: core is empty")
	}
	for _, k := range append(append([]Kind{}, LiveKinds...), ProactiveKinds...) {
		if len(p.Fallbacks[k]) == 0 {
			return fmt.Errorf("persona: no fallback for kind %q", k)
		}
	}
	for _, k := range ProactiveKinds {
		if strings.TrimSpace(p.Prompts[k]) == "" {
			return fmt.Errorf("persona: no prompt for kind %q", k)
		}
	}
	if len(p.Weekdays) != 7 {
		return fmt.Errorf("persona: weekdays must list 7 names starting with Sunday")
	}
	return nil
}

// Style returns the generation parameters for kind. Kinds without an entry
// get zero values and the backend defaults apply.
func (p *Persona) Style(kind Kind) Style {
	return p.Styles[kind]
}

// Fallback picks one of the kind's canned replies. pick receives the pool
// size and returns an index; nil picks the first entry.
func (p *Persona) Fallback(kind Kind, pick func(n int) int) string {
	pool := p.Fallbacks[kind]
	if len(pool) == 0 {
		pool = p.Fallbacks[KindBanter]
	}
	if len(pool) == 0 {
		return ""
	}
	i := 0
	if pick != nil {
		i = pick(len(pool))
	}
	if i < 0 || i >= len(pool) {
		i = 0
	}
	return pool[i]
}

func (p *Persona) Weekday(d time.Weekday) string {
	if int(d) < len(p.Weekdays) {
		return p.Weekdays[d]
	}
	return d.String()
}

// Daypart buckets an hour into night [0,6), morning [6,12), day [12,18)
// and evening [18,24).
func (p *Persona) Daypart(hour int) string {
	key := "night"
	switch {
	case hour >= 18:
		key = "evening"
	case hour >= 12:
		key = "day"
	case hour >= 6:
		key = "morning"
	}
	if v, ok := p.Dayparts[key]; ok && v != "" {
		return v
	}
	return key
}

// Vars are the placeholder values substituted into persona templates.
type Vars struct {
	Subject string
	Sender  string
	Weekday string
	Daypart string
	Weather string
	Digest  string
}

// Render substitutes {subject}, {sender}, {weekday}, {daypart}, {weather},
// {weather_clause} and {digest}. The weather clause renders only when a
// weather summary is present; lines left empty by substitution are dropped.
func (p *Persona) Render(tmpl string, v Vars) string {
	clause := ""
	if v.Weather != "" && p.WeatherClause != "" {
		clause = strings.ReplaceAll(p.WeatherClause, "{weather}", v.Weather)
	}
	r := strings.NewReplacer(
		"{subject}", v.Subject,
		"{sender}", v.Sender,
		"{weekday}", v.Weekday,
		"{daypart}", v.Daypart,
		"{weather_clause}", clause,
		"{weather}", v.Weather,
		"{digest}", v.Digest,
	)
	out := r.Replace(tmpl)

	lines := strings.Split(out, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		kept = append(kept, strings.TrimRight(l, " \t"))
	}
	return strings.Join(kept, "\n")
}
