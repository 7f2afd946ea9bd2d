package dice

import "go.uber.org/zap"

// Roller wraps a Source and logger to provide logged dice rolling.
// All rolls are logged at debug level with formula, dice values, bonus, and total.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedRoller creates a Roller that rolls with src and logs each roll to logger.
//
// Precondition: src and logger must be non-nil.
func NewLoggedRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// Source returns the underlying randomness source.
func (r *Roller) Source() Source { return r.src }

// Roll evaluates expr and logs the result at debug level.
func (r *Roller) Roll(expr Expression) RollResult {
	result := Roll(expr, r.src)
	r.logger.Debug("dice roll",
		zap.String("formula", result.Formula),
		zap.Ints("rolls", result.Rolls),
		zap.Int("bonus", result.Bonus),
		zap.Int("total", result.Total),
	)
	return result
}

// RollFormula parses formula and rolls it, logging the result.
//
// Postcondition: Returns a RollResult or an error wrapping ErrInvalidFormula.
func (r *Roller) RollFormula(formula string) (RollResult, error) {
	e, err := Parse(formula)
	if err != nil {
		return RollResult{}, err
	}
	return r.Roll(e), nil
}
