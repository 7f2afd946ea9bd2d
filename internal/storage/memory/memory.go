// Package memory provides an in-process storage.Store used in tests and
// single-node development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/combat"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
	"github.com/thinhdabezt/hexbound-vtt/internal/storage"
)

type encounter struct {
	stats   map[string]combatant.Combatant
	session *combat.Session
}

// Store keeps all state in maps guarded by a RWMutex. Values are deep-copied
// on the way in and out.
type Store struct {
	mu         sync.RWMutex
	encounters map[string]*encounter
}

// New returns an empty Store.
func New() *Store {
	return &Store{encounters: make(map[string]*encounter)}
}

var _ storage.Store = (*Store)(nil)

// enc must be called with mu held for writing.
func (s *Store) enc(id string) *encounter {
	e, ok := s.encounters[id]
	if !ok {
		e = &encounter{stats: make(map[string]combatant.Combatant)}
		s.encounters[id] = e
	}
	return e
}

func (s *Store) upsertLocked(encounterID, tokenID string) combatant.Combatant {
	e := s.enc(encounterID)
	c, ok := e.stats[tokenID]
	if !ok {
		c = combatant.New(tokenID)
		e.stats[tokenID] = c
	}
	return c.Clone()
}

// UpsertDefault implements storage.Store.
func (s *Store) UpsertDefault(ctx context.Context, encounterID, tokenID string) (combatant.Combatant, error) {
	if err := ctx.Err(); err != nil {
		return combatant.Combatant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(encounterID, tokenID), nil
}

// GetStats implements storage.Store.
func (s *Store) GetStats(ctx context.Context, encounterID, tokenID string) (combatant.Combatant, error) {
	if err := ctx.Err(); err != nil {
		return combatant.Combatant{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.encounters[encounterID]; ok {
		if c, ok := e.stats[tokenID]; ok {
			return c.Clone(), nil
		}
	}
	return combatant.Combatant{}, fmt.Errorf("combatant %q: %w", tokenID, storage.ErrNotFound)
}

// GetAllStats implements storage.Store.
func (s *Store) GetAllStats(ctx context.Context, encounterID string) ([]combatant.Combatant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []combatant.Combatant{}
	if e, ok := s.encounters[encounterID]; ok {
		for _, c := range e.stats {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

// SaveStats implements storage.Store.
func (s *Store) SaveStats(ctx context.Context, encounterID string, c combatant.Combatant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enc(encounterID).stats[c.TokenID] = c.Clone()
	return nil
}

// SetPosition implements storage.Store.
func (s *Store) SetPosition(ctx context.Context, encounterID, tokenID string, pos combat.Hex) (combatant.Combatant, error) {
	if err := ctx.Err(); err != nil {
		return combatant.Combatant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.upsertLocked(encounterID, tokenID)
	c.Q, c.R = pos.Q, pos.R
	s.enc(encounterID).stats[tokenID] = c.Clone()
	return c, nil
}

// Positions implements storage.Store.
func (s *Store) Positions(ctx context.Context, encounterID string) (map[string]combat.Hex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]combat.Hex{}
	if e, ok := s.encounters[encounterID]; ok {
		for id, c := range e.stats {
			out[id] = combat.Hex{Q: c.Q, R: c.R}
		}
	}
	return out, nil
}

// SaveSessionState implements storage.Store.
func (s *Store) SaveSessionState(ctx context.Context, encounterID string, sess *combat.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enc(encounterID).session = sess.Clone()
	return nil
}

// LoadSessionState implements storage.Store.
func (s *Store) LoadSessionState(ctx context.Context, encounterID string) (*combat.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.encounters[encounterID]; ok && e.session != nil {
		return e.session.Clone(), nil
	}
	return nil, fmt.Errorf("session %q: %w", encounterID, storage.ErrNotFound)
}
