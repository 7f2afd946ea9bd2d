package combat

// ActionKind identifies one slot of the per-turn action economy.
type ActionKind int

const (
	ActionStandard ActionKind = iota
	ActionBonus
	ActionReaction
	ActionMovement
)

// String returns the human-readable name of the ActionKind.
func (k ActionKind) String() string {
	switch k {
	case ActionStandard:
		return "action"
	case ActionBonus:
		return "bonus action"
	case ActionReaction:
		return "reaction"
	case ActionMovement:
		return "movement"
	default:
		return "unknown"
	}
}

// ActionBudget is the per-turn ledger of one combatant.
// Invariant: MovementRemaining >= 0. Within a turn the flags only flip to true
// and MovementRemaining only decreases; Reset is the only way back.
type ActionBudget struct {
	ActionUsed        bool `json:"actionUsed"`
	BonusActionUsed   bool `json:"bonusActionUsed"`
	ReactionUsed      bool `json:"reactionUsed"`
	MovementRemaining int  `json:"movementRemaining"`
}

// NewActionBudget returns a fresh budget with movement hexes available.
//
// Postcondition: all flags false; MovementRemaining == max(movement, 0).
func NewActionBudget(movement int) ActionBudget {
	if movement < 0 {
		movement = 0
	}
	return ActionBudget{MovementRemaining: movement}
}

// Used reports whether the single-use slot k has been spent. Movement is
// never "used"; it is consumed by amount.
func (b ActionBudget) Used(k ActionKind) bool {
	switch k {
	case ActionStandard:
		return b.ActionUsed
	case ActionBonus:
		return b.BonusActionUsed
	case ActionReaction:
		return b.ReactionUsed
	default:
		return false
	}
}

// spend flips the flag for k.
//
// Postcondition: Returns false with no mutation if the slot was already used.
func (b *ActionBudget) spend(k ActionKind) bool {
	if b.Used(k) {
		return false
	}
	switch k {
	case ActionStandard:
		b.ActionUsed = true
	case ActionBonus:
		b.BonusActionUsed = true
	case ActionReaction:
		b.ReactionUsed = true
	default:
		return false
	}
	return true
}

// move deducts hexes from MovementRemaining.
//
// Precondition: hexes >= 0.
// Postcondition: Returns false with no mutation if hexes > MovementRemaining.
func (b *ActionBudget) move(hexes int) bool {
	if hexes < 0 || hexes > b.MovementRemaining {
		return false
	}
	b.MovementRemaining -= hexes
	return true
}
