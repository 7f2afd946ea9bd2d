// Package storage defines the persistence port for combatant stats and
// encounter session snapshots, along with helpers shared by its adapters.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/combat"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
)

// ErrNotFound is returned when a combatant or session snapshot does not exist.
var ErrNotFound = errors.New("not found")

// Store persists per-token combat stats and the session snapshot of each
// encounter. Implementations must be safe for concurrent use; they do not
// serialize read-modify-write cycles, which is the caller's job.
type Store interface {
	// UpsertDefault returns the stats for tokenID, creating them with
	// defaults when absent.
	UpsertDefault(ctx context.Context, encounterID, tokenID string) (combatant.Combatant, error)
	// GetStats returns ErrNotFound when tokenID has no stats.
	GetStats(ctx context.Context, encounterID, tokenID string) (combatant.Combatant, error)
	// GetAllStats returns every combatant of the encounter ordered by token id.
	GetAllStats(ctx context.Context, encounterID string) ([]combatant.Combatant, error)
	SaveStats(ctx context.Context, encounterID string, c combatant.Combatant) error
	// SetPosition records the token's hex, creating default stats if needed.
	SetPosition(ctx context.Context, encounterID, tokenID string, pos combat.Hex) (combatant.Combatant, error)
	Positions(ctx context.Context, encounterID string) (map[string]combat.Hex, error)
	SaveSessionState(ctx context.Context, encounterID string, s *combat.Session) error
	// LoadSessionState returns ErrNotFound when no snapshot was ever saved.
	LoadSessionState(ctx context.Context, encounterID string) (*combat.Session, error)
}

// TransientError marks a failure of the backing store that may succeed on
// retry, such as a timeout or a lost connection.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("store %s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for op. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientError
	if errors.As(err, &te) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ApplyDamage loads tokenID (defaulting if absent), applies amount damage,
// and persists the result.
//
// Precondition: the caller holds the encounter's serialization lock.
// Postcondition: On success the returned stats are durable.
func ApplyDamage(ctx context.Context, st Store, encounterID, tokenID string, amount int) (combatant.Combatant, combatant.DeathState, error) {
	c, err := st.UpsertDefault(ctx, encounterID, tokenID)
	if err != nil {
		return combatant.Combatant{}, combatant.DeathNone, fmt.Errorf("loading %s: %w", tokenID, err)
	}
	state := combatant.ApplyDamage(&c, amount)
	if err := st.SaveStats(ctx, encounterID, c); err != nil {
		return combatant.Combatant{}, combatant.DeathNone, fmt.Errorf("saving %s: %w", tokenID, err)
	}
	return c, state, nil
}

// ApplyHealing loads tokenID (defaulting if absent), heals it, and persists
// the result. revived is true when Unconscious was removed.
//
// Precondition: the caller holds the encounter's serialization lock.
func ApplyHealing(ctx context.Context, st Store, encounterID, tokenID string, amount int) (c combatant.Combatant, revived bool, err error) {
	c, err = st.UpsertDefault(ctx, encounterID, tokenID)
	if err != nil {
		return combatant.Combatant{}, false, fmt.Errorf("loading %s: %w", tokenID, err)
	}
	if c.IsDead() {
		return c, false, nil
	}
	revived = combatant.ApplyHealing(&c, amount)
	if err := st.SaveStats(ctx, encounterID, c); err != nil {
		return combatant.Combatant{}, false, fmt.Errorf("saving %s: %w", tokenID, err)
	}
	return c, revived, nil
}
