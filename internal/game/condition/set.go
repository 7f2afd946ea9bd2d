package condition

import "slices"

// Set is the collection of conditions currently applied to one combatant.
// It keeps insertion order and never holds duplicates; it marshals as a plain
// JSON array of names. It is not safe for concurrent use.
type Set []string

// Has reports whether name is present.
func (s Set) Has(name string) bool {
	return slices.Contains(s, name)
}

// HasAny reports whether any of names is present.
func (s Set) HasAny(names ...string) bool {
	for _, n := range names {
		if s.Has(n) {
			return true
		}
	}
	return false
}

// Insert appends name if absent and reports whether it was added.
func (s *Set) Insert(name string) bool {
	if s.Has(name) {
		return false
	}
	*s = append(*s, name)
	return true
}

// Delete deletes name and reports whether it was present.
func (s *Set) Delete(name string) bool {
	i := slices.Index(*s, name)
	if i < 0 {
		return false
	}
	*s = slices.Delete(*s, i, i+1)
	return true
}

// Clone returns an independent copy; a nil Set clones to an empty one.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	copy(out, s)
	return out
}
