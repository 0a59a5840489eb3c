// Package faq serves the widget's static FAQ list.
package faq

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type FAQ struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type entry struct {
	Q string `yaml:"q"`
	A string `yaml:"a"`
}

// Store is loaded once at startup and read-only afterwards.
type Store struct {
	faqs []FAQ
}

// Load reads a YAML list of {q, a} entries. Ids are list positions.
// A missing file is an empty store.
func Load(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Store{faqs: []FAQ{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Store, error) {
	var entries []entry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("faq: %w", err)
	}
	out := make([]FAQ, 0, len(entries))
	for i, e := range entries {
		out = append(out, FAQ{ID: i, Question: e.Q, Answer: e.A})
	}
	return &Store{faqs: out}, nil
}

// All returns a copy so callers cannot mutate the store.
func (s *Store) All() []FAQ {
	out := make([]FAQ, len(s.faqs))
	copy(out, s.faqs)
	return out
}
