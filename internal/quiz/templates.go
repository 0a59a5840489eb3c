package quiz

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action is one quiz widget button: a label plus the two prompt templates.
// User may reference {question}, {list}, {correct} and {incorrect}.
type Action struct {
	Key    string `yaml:"key" json:"key"`
	Label  string `yaml:"label" json:"label"`
	System string `yaml:"system" json:"-"`
	User   string `yaml:"user" json:"-"`
}

type Templates struct {
	GlobalPrompt string   `yaml:"global_prompt"`
	Actions      []Action `yaml:"actions"`
}

// LoadTemplates reads the YAML template file. A missing file yields no
// actions and an empty global prompt. Actions without a label or either
// template are dropped.
func LoadTemplates(path string) (*Templates, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Templates{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseTemplates(b)
}

func ParseTemplates(b []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("quiz templates: %w", err)
	}
	t.GlobalPrompt = strings.TrimSpace(t.GlobalPrompt)

	kept := t.Actions[:0]
	for _, a := range t.Actions {
		a.Label = strings.TrimSpace(a.Label)
		a.System = strings.TrimSpace(a.System)
		a.User = strings.TrimSpace(a.User)
		a.Key = strings.TrimSpace(a.Key)
		if a.Key == "" {
			a.Key = slug(a.Label)
		}
		if a.Label == "" || a.System == "" || a.User == "" {
			continue
		}
		kept = append(kept, a)
	}
	t.Actions = kept
	return &t, nil
}

func (t *Templates) Action(key string) (Action, bool) {
	for _, a := range t.Actions {
		if a.Key == key {
			return a, true
		}
	}
	return Action{}, false
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('_')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}
