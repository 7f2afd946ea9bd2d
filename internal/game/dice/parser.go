package dice

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidFormula is returned (wrapped) for any text that does not match
// the grammar [count]d<sides>[(+|-)bonus].
var ErrInvalidFormula = errors.New("invalid dice formula")

const (
	// MaxCount bounds the number of dice in one formula.
	MaxCount = 100
	// MaxSides bounds the number of faces per die.
	MaxSides = 1000
	// MaxBonus bounds the magnitude of the flat modifier.
	MaxBonus = 10000
)

var formulaPattern = regexp.MustCompile(`^(\d+)?d(\d+)(?:\s*([+-])\s*(\d+))?$`)

// Expression is a parsed dice formula ready to be rolled.
//
// Invariant: 1 <= Count <= MaxCount, 1 <= Sides <= MaxSides and
// |Bonus| <= MaxBonus after a successful Parse.
type Expression struct {
	Raw   string
	Count int
	Sides int
	Bonus int
}

// Parse parses a dice formula such as "d20", "2d6", "1d20+5" or "D8 - 1".
// Matching is case-insensitive and tolerates surrounding whitespace.
//
// Postcondition: Returns a valid Expression or an error wrapping ErrInvalidFormula.
func Parse(formula string) (Expression, error) {
	normalized := strings.ToLower(strings.TrimSpace(formula))
	m := formulaPattern.FindStringSubmatch(normalized)
	if m == nil {
		return Expression{}, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}

	count := 1
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Expression{}, fmt.Errorf("%w: die count in %q: %v", ErrInvalidFormula, formula, err)
		}
		count = n
	}
	if count < 1 || count > MaxCount {
		return Expression{}, fmt.Errorf("%w: die count in %q must be 1-%d", ErrInvalidFormula, formula, MaxCount)
	}

	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return Expression{}, fmt.Errorf("%w: die sides in %q: %v", ErrInvalidFormula, formula, err)
	}
	if sides < 1 || sides > MaxSides {
		return Expression{}, fmt.Errorf("%w: die sides in %q must be 1-%d", ErrInvalidFormula, formula, MaxSides)
	}

	bonus := 0
	if m[3] != "" {
		b, err := strconv.Atoi(m[4])
		if err != nil {
			return Expression{}, fmt.Errorf("%w: bonus in %q: %v", ErrInvalidFormula, formula, err)
		}
		if b > MaxBonus {
			return Expression{}, fmt.Errorf("%w: bonus in %q must be at most %d", ErrInvalidFormula, formula, MaxBonus)
		}
		if m[3] == "-" {
			b = -b
		}
		bonus = b
	}

	return Expression{Raw: strings.TrimSpace(formula), Count: count, Sides: sides, Bonus: bonus}, nil
}

// MustParse parses formula and panics on error. Useful for package-level constants.
func MustParse(formula string) Expression {
	e, err := Parse(formula)
	if err != nil {
		panic("dice: MustParse failed for formula " + formula + ": " + err.Error())
	}
	return e
}
