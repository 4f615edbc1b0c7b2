package models

import (
	"encoding/json"
	"fmt"
)

// Pair is a term with its translation. The curriculum document encodes
// it as a two-element array: ["Guten Morgen", "Доброе утро"].
type Pair struct {
	Term        string
	Translation string
}

// UnmarshalJSON decodes the two-element array form
func (p *Pair) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 2 {
		return fmt.Errorf("pair must have exactly 2 elements, got %d", len(arr))
	}
	p.Term = arr[0]
	p.Translation = arr[1]
	return nil
}

// MarshalJSON encodes back to the two-element array form
func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Term, p.Translation})
}

// Grammar is a structured grammar note: a rule, an optional table
// rendered row by row, and optional example pairs. Older curriculum
// documents stored the note as a plain string; that decodes into Rule.
type Grammar struct {
	Rule     string     `json:"rule"`
	Table    [][]string `json:"table,omitempty"`
	Examples []Pair     `json:"examples,omitempty"`
}

// UnmarshalJSON accepts both the object form and the legacy string form
func (g *Grammar) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &g.Rule)
	}
	type alias Grammar
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*g = Grammar(a)
	return nil
}

// IsEmpty reports whether the note has no content at all
func (g *Grammar) IsEmpty() bool {
	return g == nil || (g.Rule == "" && len(g.Table) == 0 && len(g.Examples) == 0)
}

// Lesson is a single curriculum entry. Every section except the title
// is optional; a lesson with no sections still has a title.
type Lesson struct {
	Title   string   `json:"title"`
	Words   []Pair   `json:"words,omitempty"`
	Phrases []Pair   `json:"phrases,omitempty"`
	Grammar *Grammar `json:"grammar,omitempty"`
	Review  []Pair   `json:"review,omitempty"`
	Task    string   `json:"task,omitempty"`
}

// UnmarshalJSON additionally accepts the legacy "gram" key for the
// grammar note so old lesson documents keep loading.
func (l *Lesson) UnmarshalJSON(data []byte) error {
	type alias Lesson
	var a struct {
		alias
		Gram *Grammar `json:"gram"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*l = Lesson(a.alias)
	if l.Grammar == nil && a.Gram != nil {
		l.Grammar = a.Gram
	}
	return nil
}
