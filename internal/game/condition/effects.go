package condition

// Add applies name to s when name is in the vocabulary and not already present.
//
// Postcondition: Returns true iff s changed.
func (r *Registry) Add(s *Set, name string) bool {
	if !r.Valid(name) {
		return false
	}
	return s.Insert(name)
}

// Remove deletes name from s.
//
// Postcondition: Returns true iff a removal occurred.
func (r *Registry) Remove(s *Set, name string) bool {
	return s.Delete(name)
}

// EffectiveSpeed returns 0 if any zero-speed condition is present, else base.
func (r *Registry) EffectiveSpeed(s Set, base int) int {
	for _, n := range s {
		if d, ok := r.defs[n]; ok && d.ZeroSpeed {
			return 0
		}
	}
	return base
}

// CanTakeTurn reports whether no turn-skipping condition is present.
func (r *Registry) CanTakeTurn(s Set) bool {
	for _, n := range s {
		if d, ok := r.defs[n]; ok && d.SkipsTurn {
			return false
		}
	}
	return true
}

// StandUpCost returns the movement needed to rise from Prone: half of speed,
// rounded down, or 0 when not prone.
func (r *Registry) StandUpCost(s Set, speed int) int {
	if !s.Has(Prone) {
		return 0
	}
	return speed / 2
}
