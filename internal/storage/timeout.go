package storage

import (
	"context"
	"errors"
	"time"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/combat"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
)

// Timed decorates a Store so every call runs under its own deadline.
// Deadline expiry is reported as a TransientError.
type Timed struct {
	next    Store
	timeout time.Duration
}

// WithTimeout wraps next. A non-positive timeout returns next unchanged.
//
// Postcondition: every call on the returned Store is bounded by timeout.
func WithTimeout(next Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return next
	}
	return &Timed{next: next, timeout: timeout}
}

func (t *Timed) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, t.timeout)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(op, err)
	}
	return err
}

// UpsertDefault implements Store.
func (t *Timed) UpsertDefault(ctx context.Context, encounterID, tokenID string) (combatant.Combatant, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	c, err := t.next.UpsertDefault(ctx, encounterID, tokenID)
	return c, classify("upsert", err)
}

// GetStats implements Store.
func (t *Timed) GetStats(ctx context.Context, encounterID, tokenID string) (combatant.Combatant, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	c, err := t.next.GetStats(ctx, encounterID, tokenID)
	return c, classify("get stats", err)
}

// GetAllStats implements Store.
func (t *Timed) GetAllStats(ctx context.Context, encounterID string) ([]combatant.Combatant, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	cs, err := t.next.GetAllStats(ctx, encounterID)
	return cs, classify("get all stats", err)
}

// SaveStats implements Store.
func (t *Timed) SaveStats(ctx context.Context, encounterID string, c combatant.Combatant) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return classify("save stats", t.next.SaveStats(ctx, encounterID, c))
}

// SetPosition implements Store.
func (t *Timed) SetPosition(ctx context.Context, encounterID, tokenID string, pos combat.Hex) (combatant.Combatant, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	c, err := t.next.SetPosition(ctx, encounterID, tokenID, pos)
	return c, classify("set position", err)
}

// Positions implements Store.
func (t *Timed) Positions(ctx context.Context, encounterID string) (map[string]combat.Hex, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	m, err := t.next.Positions(ctx, encounterID)
	return m, classify("positions", err)
}

// SaveSessionState implements Store.
func (t *Timed) SaveSessionState(ctx context.Context, encounterID string, s *combat.Session) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return classify("save session", t.next.SaveSessionState(ctx, encounterID, s))
}

// LoadSessionState implements Store.
func (t *Timed) LoadSessionState(ctx context.Context, encounterID string) (*combat.Session, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	s, err := t.next.LoadSessionState(ctx, encounterID)
	return s, classify("load session", err)
}
