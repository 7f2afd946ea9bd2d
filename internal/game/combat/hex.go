package combat

import "sort"

// Hex is an axial hex-grid coordinate.
type Hex struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the derived third cube axis.
func (h Hex) S() int { return -h.Q - h.R }

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// HexDistance returns the number of hex steps between (q1,r1) and (q2,r2).
//
// Postcondition: Returns >= 0; symmetric in its endpoints.
func HexDistance(q1, r1, q2, r2 int) int {
	dq := q1 - q2
	dr := r1 - r2
	ds := (-q1 - r1) - (-q2 - r2)
	return (abs(dq) + abs(dr) + abs(ds)) / 2
}

// Distance returns HexDistance between h and o.
func (h Hex) Distance(o Hex) int {
	return HexDistance(h.Q, h.R, o.Q, o.R)
}

// MovementCost is the straight-line distance from from to to, plus one if the
// destination hex is difficult terrain. Intermediate hexes are not inspected.
func MovementCost(from, to Hex, difficult map[Hex]bool) int {
	cost := from.Distance(to)
	if difficult[to] {
		cost++
	}
	return cost
}

// OpportunityAttackCheck returns the ids of enemies that were adjacent to from
// and are no longer adjacent to to. The mover itself is ignored. Only the two
// endpoints of the move are considered. Results are sorted by id.
func OpportunityAttackCheck(from, to Hex, enemies map[string]Hex, movingID string) []string {
	var out []string
	for id, pos := range enemies {
		if id == movingID {
			continue
		}
		if pos.Distance(from) == 1 && pos.Distance(to) > 1 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
