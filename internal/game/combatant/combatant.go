// Package combatant holds the per-token combat statistics shared by the
// session engine, the store, and the wire protocol.
package combatant

import (
	"github.com/thinhdabezt/hexbound-vtt/internal/game/condition"
)

// Defaults applied to tokens that have never been configured.
const (
	DefaultName       = "Unknown"
	DefaultMaxHP      = 10
	DefaultArmorClass = 10
	DefaultSpeed      = 6
)

// Combatant is one token's combat statistics. The same shape is persisted
// and sent to clients.
//
// Invariant: 0 <= CurrentHP <= MaxHP; Conditions never holds both Dead and Unconscious.
type Combatant struct {
	TokenID            string        `json:"tokenId"`
	Name               string        `json:"name"`
	MaxHP              int           `json:"maxHp"`
	CurrentHP          int           `json:"currentHp"`
	ArmorClass         int           `json:"armorClass"`
	Speed              int           `json:"speed"`
	InitiativeModifier int           `json:"initiativeModifier"`
	Conditions         condition.Set `json:"conditions"`
	Q                  int           `json:"q"`
	R                  int           `json:"r"`
}

// New returns a Combatant for tokenID populated with the defaults.
//
// Postcondition: CurrentHP == MaxHP == DefaultMaxHP; Conditions is empty, not nil.
func New(tokenID string) Combatant {
	return Combatant{
		TokenID:    tokenID,
		Name:       DefaultName,
		MaxHP:      DefaultMaxHP,
		CurrentHP:  DefaultMaxHP,
		ArmorClass: DefaultArmorClass,
		Speed:      DefaultSpeed,
		Conditions: condition.Set{},
	}
}

// Clone returns a deep copy of c.
func (c Combatant) Clone() Combatant {
	c.Conditions = c.Conditions.Clone()
	return c
}

// Normalize clamps HP into range, floors negative speed/max HP, drops
// duplicate or unknown conditions, and resolves a Dead+Unconscious conflict in
// favour of Dead.
func (c *Combatant) Normalize(reg *condition.Registry) {
	if c.MaxHP < 0 {
		c.MaxHP = 0
	}
	if c.Speed < 0 {
		c.Speed = 0
	}
	if c.CurrentHP < 0 {
		c.CurrentHP = 0
	}
	if c.CurrentHP > c.MaxHP {
		c.CurrentHP = c.MaxHP
	}
	if c.Name == "" {
		c.Name = DefaultName
	}
	clean := condition.Set{}
	for _, n := range c.Conditions {
		if reg != nil && !reg.Valid(n) {
			continue
		}
		clean.Insert(n)
	}
	if clean.Has(condition.Dead) {
		clean.Delete(condition.Unconscious)
	}
	c.Conditions = clean
}

// IsAlive reports whether c has hit points left.
func (c Combatant) IsAlive() bool { return c.CurrentHP > 0 }

// IsDead reports whether c carries the Dead condition.
func (c Combatant) IsDead() bool { return c.Conditions.Has(condition.Dead) }
