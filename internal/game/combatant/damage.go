package combatant

import (
	"github.com/thinhdabezt/hexbound-vtt/internal/game/condition"
)

// DeathState is the outcome of a damage application.
type DeathState int

const (
	DeathNone DeathState = iota
	DeathUnconscious
	DeathDead
)

// String returns the wire name of the state.
func (d DeathState) String() string {
	switch d {
	case DeathUnconscious:
		return condition.Unconscious
	case DeathDead:
		return condition.Dead
	default:
		return "None"
	}
}

// MarshalText encodes the state by name.
func (d DeathState) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ApplyDamage reduces c's hit points by amount, flooring at zero, and
// resolves unconsciousness or death when the hit drops c from positive HP to 0.
// Death applies when the overkill (amount beyond what reached 0) is at least MaxHP.
//
// Precondition: amount >= 0.
// Postcondition: 0 <= c.CurrentHP; Dead and Unconscious are never both present.
func ApplyDamage(c *Combatant, amount int) DeathState {
	if amount < 0 {
		amount = 0
	}
	prev := c.CurrentHP
	next := prev - amount
	if next < 0 {
		next = 0
	}
	c.CurrentHP = next

	if next != 0 || prev <= 0 {
		return DeathNone
	}
	overkill := amount - prev
	switch {
	case overkill >= c.MaxHP && !c.Conditions.Has(condition.Dead):
		c.Conditions.Insert(condition.Dead)
		c.Conditions.Delete(condition.Unconscious)
		return DeathDead
	case !c.Conditions.HasAny(condition.Unconscious, condition.Dead):
		c.Conditions.Insert(condition.Unconscious)
		return DeathUnconscious
	}
	return DeathNone
}

// ApplyHealing restores amount hit points, capped at MaxHP. The dead are not
// healed. A combatant brought up from 0 HP loses Unconscious.
//
// Precondition: amount >= 0.
// Postcondition: Returns true iff the heal revived c (Unconscious removed).
func ApplyHealing(c *Combatant, amount int) bool {
	if c.Conditions.Has(condition.Dead) {
		return false
	}
	if amount < 0 {
		amount = 0
	}
	prev := c.CurrentHP
	next := prev + amount
	if next > c.MaxHP {
		next = c.MaxHP
	}
	c.CurrentHP = next
	if prev == 0 && next > 0 {
		return c.Conditions.Delete(condition.Unconscious)
	}
	return false
}
