// Package catalog holds read-only reference content (monsters and spells)
// seeded from an external rules-content feed.
package catalog

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Monster is one reference monster. Data keeps the feed's full document.
type Monster struct {
	ID              uuid.UUID       `json:"id"`
	Index           string          `json:"index"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	ChallengeRating float64         `json:"challengeRating"`
	ArmorClass      int             `json:"armorClass"`
	HitPoints       int             `json:"hitPoints"`
	Data            json.RawMessage `json:"data"`
}

// Spell is one reference spell. Data keeps the feed's full document.
type Spell struct {
	ID     uuid.UUID       `json:"id"`
	Index  string          `json:"index"`
	Name   string          `json:"name"`
	Level  int             `json:"level"`
	School string          `json:"school"`
	Data   json.RawMessage `json:"data"`
}

// Repository persists catalog content.
type Repository interface {
	CountMonsters(ctx context.Context) (int, error)
	// InsertMonsters skips entries whose Index already exists.
	InsertMonsters(ctx context.Context, ms []Monster) error
	// ListMonsters returns up to limit monsters ordered by name; limit <= 0 means all.
	ListMonsters(ctx context.Context, limit int) ([]Monster, error)
	CountSpells(ctx context.Context) (int, error)
	InsertSpells(ctx context.Context, ss []Spell) error
	ListSpells(ctx context.Context, limit int) ([]Spell, error)
}

// MemoryRepository is a Repository kept in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	monsters map[string]Monster
	spells   map[string]Spell
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{monsters: map[string]Monster{}, spells: map[string]Spell{}}
}

var _ Repository = (*MemoryRepository)(nil)

// CountMonsters implements Repository.
func (r *MemoryRepository) CountMonsters(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monsters), nil
}

// InsertMonsters implements Repository.
func (r *MemoryRepository) InsertMonsters(_ context.Context, ms []Monster) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range ms {
		if _, ok := r.monsters[m.Index]; !ok {
			r.monsters[m.Index] = m
		}
	}
	return nil
}

// ListMonsters implements Repository.
func (r *MemoryRepository) ListMonsters(_ context.Context, limit int) ([]Monster, error) {
	r.mu.RLock()
	out := make([]Monster, 0, len(r.monsters))
	for _, m := range r.monsters {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountSpells implements Repository.
func (r *MemoryRepository) CountSpells(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.spells), nil
}

// InsertSpells implements Repository.
func (r *MemoryRepository) InsertSpells(_ context.Context, ss []Spell) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range ss {
		if _, ok := r.spells[s.Index]; !ok {
			r.spells[s.Index] = s
		}
	}
	return nil
}

// ListSpells implements Repository.
func (r *MemoryRepository) ListSpells(_ context.Context, limit int) ([]Spell, error) {
	r.mu.RLock()
	out := make([]Spell, 0, len(r.spells))
	for _, s := range r.spells {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
