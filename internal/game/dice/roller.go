package dice

// D20 is the initiative die.
var D20 = MustParse("1d20")

// Roll evaluates expr using src.
//
// Precondition: expr must come from Parse; src must be non-nil.
// Postcondition: len(result.Rolls) == expr.Count, every roll is in [1, expr.Sides],
// and result.Total == sum(result.Rolls) + expr.Bonus.
func Roll(expr Expression, src Source) RollResult {
	rolls := make([]int, expr.Count)
	for i := range rolls {
		rolls[i] = src.Intn(expr.Sides) + 1
	}
	r := RollResult{
		Formula: expr.Raw,
		Count:   expr.Count,
		Sides:   expr.Sides,
		Bonus:   expr.Bonus,
		Rolls:   rolls,
	}
	r.Total = r.Sum()
	return r
}

// RollFormula parses formula and rolls it using src in a single call.
//
// Postcondition: Returns a RollResult or an error wrapping ErrInvalidFormula.
func RollFormula(formula string, src Source) (RollResult, error) {
	e, err := Parse(formula)
	if err != nil {
		return RollResult{}, err
	}
	return Roll(e, src), nil
}
