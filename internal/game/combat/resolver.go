package combat

// AttackResult holds the outcome of a single attack declaration.
type AttackResult struct {
	AttackerID string `json:"attackerId"`
	TargetID   string `json:"targetId"`
	AttackRoll int    `json:"attackRoll"`
	TargetAC   int    `json:"targetAc"`
	Hit        bool   `json:"hit"`
}

// ResolveAttack reports whether attackRoll meets or beats targetAC.
// Natural 1s and 20s get no special treatment.
func ResolveAttack(attackRoll, targetAC int) bool {
	return attackRoll >= targetAC
}

// NewAttackResult resolves an attack and records its inputs.
//
// Postcondition: Hit == ResolveAttack(attackRoll, targetAC).
func NewAttackResult(attackerID, targetID string, attackRoll, targetAC int) AttackResult {
	return AttackResult{
		AttackerID: attackerID,
		TargetID:   targetID,
		AttackRoll: attackRoll,
		TargetAC:   targetAC,
		Hit:        ResolveAttack(attackRoll, targetAC),
	}
}
