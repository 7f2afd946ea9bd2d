package combat

import (
	"fmt"
	"slices"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/dice"
)

// InitiativeEntry is one line of the initiative log produced by StartCombat.
type InitiativeEntry struct {
	TokenID    string `json:"tokenId"`
	Name       string `json:"name"`
	Roll       int    `json:"roll"`
	Modifier   int    `json:"modifier"`
	Initiative int    `json:"initiative"`
}

// String renders the entry as a combat log line.
func (e InitiativeEntry) String() string {
	return fmt.Sprintf("%s rolled %d (d20 %d %+d)", e.Name, e.Initiative, e.Roll, e.Modifier)
}

// RollInitiative rolls 1d20 + InitiativeModifier for every participant and
// returns the entries in turn order: initiative descending, then modifier
// descending, then input order.
//
// Precondition: src must not be nil; participant ids are unique.
// Postcondition: len(result) == len(participants).
func RollInitiative(participants []combatant.Combatant, src dice.Source) []InitiativeEntry {
	out := make([]InitiativeEntry, 0, len(participants))
	for _, p := range participants {
		roll := dice.Roll(dice.D20, src).Total
		out = append(out, InitiativeEntry{
			TokenID:    p.TokenID,
			Name:       p.Name,
			Roll:       roll,
			Modifier:   p.InitiativeModifier,
			Initiative: roll + p.InitiativeModifier,
		})
	}
	slices.SortStableFunc(out, func(a, b InitiativeEntry) int {
		if a.Initiative != b.Initiative {
			return b.Initiative - a.Initiative
		}
		return b.Modifier - a.Modifier
	})
	return out
}
