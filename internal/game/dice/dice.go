// Package dice parses dice formulas and produces unbiased rolls for the
// combat session engine.
package dice

import (
	"fmt"
	"strings"
)

// RollResult holds the full audit trail for a single formula evaluation.
//
// Postcondition: Total == sum(Rolls) + Bonus.
type RollResult struct {
	Formula string `json:"formula"`
	Count   int    `json:"count"`
	Sides   int    `json:"sides"`
	Bonus   int    `json:"bonus"`
	Rolls   []int  `json:"rolls"`
	Total   int    `json:"total"`
}

// Sum returns the sum of all die results plus the bonus.
//
// Postcondition: return value == sum(r.Rolls) + r.Bonus.
func (r RollResult) Sum() int {
	total := r.Bonus
	for _, d := range r.Rolls {
		total += d
	}
	return total
}

// String returns a human-readable audit string in the format:
//
//	"2d6+3 [4 5] = 12"
func (r RollResult) String() string {
	parts := make([]string, len(r.Rolls))
	for i, d := range r.Rolls {
		parts[i] = fmt.Sprintf("%d", d)
	}
	expr := fmt.Sprintf("%dd%d", r.Count, r.Sides)
	if r.Bonus != 0 {
		expr += fmt.Sprintf("%+d", r.Bonus)
	}
	return fmt.Sprintf("%s [%s] = %d", expr, strings.Join(parts, " "), r.Total)
}

// Source is the randomness provider for dice rolls.
//
// Implementations MUST be safe for concurrent use and MUST return values
// uniformly distributed over [0, n).
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}
