// Package condition defines the fixed status-condition vocabulary and the
// gameplay effects those conditions have on a combatant.
package condition

import (
	"bytes"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Condition names in the fixed vocabulary.
const (
	Blinded       = "Blinded"
	Charmed       = "Charmed"
	Deafened      = "Deafened"
	Frightened    = "Frightened"
	Grappled      = "Grappled"
	Incapacitated = "Incapacitated"
	Invisible     = "Invisible"
	Paralyzed     = "Paralyzed"
	Petrified     = "Petrified"
	Poisoned      = "Poisoned"
	Prone         = "Prone"
	Restrained    = "Restrained"
	Stunned       = "Stunned"
	Unconscious   = "Unconscious"
	Dead          = "Dead"
)

// UnknownGlyph is shown for names outside the vocabulary.
const UnknownGlyph = "❓"

//go:embed conditions.yaml
var standardTable []byte

// Def is the static definition of one condition.
type Def struct {
	Name        string `yaml:"name"`
	Glyph       string `yaml:"glyph"`
	Description string `yaml:"description"`
	ZeroSpeed   bool   `yaml:"zero_speed"`
	SkipsTurn   bool   `yaml:"skips_turn"`
}

// Registry is an immutable lookup of condition definitions keyed by name.
// It is safe for concurrent use because nothing mutates it after construction.
type Registry struct {
	order []string
	defs  map[string]Def
}

// NewRegistry builds a Registry from defs.
//
// Precondition: every def has a non-empty, unique Name.
// Postcondition: Returns a Registry or an error naming the offending entry.
func NewRegistry(defs []Def) (*Registry, error) {
	r := &Registry{defs: make(map[string]Def, len(defs))}
	for i, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("condition #%d: name must not be empty", i)
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("condition %q defined twice", d.Name)
		}
		r.defs[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// Parse decodes a YAML condition table into a Registry. Unknown keys are rejected.
func Parse(data []byte) (*Registry, error) {
	var defs []Def
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("parsing condition table: %w", err)
	}
	return NewRegistry(defs)
}

// Standard returns the built-in fifteen-condition registry.
// Each call decodes a fresh value; callers construct it once at startup and pass it down.
func Standard() *Registry {
	r, err := Parse(standardTable)
	if err != nil {
		panic("condition: embedded table is invalid: " + err.Error())
	}
	return r
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Def, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Valid reports whether name is part of the vocabulary.
func (r *Registry) Valid(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// Glyph returns the display glyph for name, or UnknownGlyph.
func (r *Registry) Glyph(name string) string {
	if d, ok := r.defs[name]; ok {
		return d.Glyph
	}
	return UnknownGlyph
}

// Names returns the vocabulary in display order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns a snapshot of every definition in display order.
func (r *Registry) All() []Def {
	out := make([]Def, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.defs[n])
	}
	return out
}
