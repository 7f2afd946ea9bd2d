package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reference is one entry of a feed index listing.
type Reference struct {
	Index string `json:"index"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// Feed is the external rules-content source.
type Feed interface {
	ListMonsters(ctx context.Context) ([]Reference, error)
	ListSpells(ctx context.Context) ([]Reference, error)
	// Fetch returns the raw document at a reference URL.
	Fetch(ctx context.Context, url string) (json.RawMessage, error)
}

// SeedReport summarizes one seeding run.
type SeedReport struct {
	MonstersAdded   int
	SpellsAdded     int
	Failed          int
	MonstersSkipped bool
	SpellsSkipped   bool
}

// Seeder fills an empty catalog from a Feed.
type Seeder struct {
	repo   Repository
	feed   Feed
	limit  int
	logger *zap.Logger
}

// NewSeeder creates a Seeder that fetches at most limit entries per kind.
//
// Precondition: repo, feed, and logger must be non-nil; limit >= 0.
func NewSeeder(repo Repository, feed Feed, limit int, logger *zap.Logger) *Seeder {
	return &Seeder{repo: repo, feed: feed, limit: limit, logger: logger}
}

// Seed populates monsters and spells when their tables are empty. A failure
// to fetch one detail document is logged and skipped.
//
// Postcondition: Returns an error only when listing or persisting fails.
func (s *Seeder) Seed(ctx context.Context) (SeedReport, error) {
	start := time.Now()
	var rep SeedReport

	n, err := s.repo.CountMonsters(ctx)
	if err != nil {
		return rep, fmt.Errorf("counting monsters: %w", err)
	}
	if n > 0 {
		rep.MonstersSkipped = true
		s.logger.Info("monsters already seeded", zap.Int("count", n))
	} else {
		added, failed, err := s.seedMonsters(ctx)
		if err != nil {
			return rep, err
		}
		rep.MonstersAdded, rep.Failed = added, rep.Failed+failed
	}

	n, err = s.repo.CountSpells(ctx)
	if err != nil {
		return rep, fmt.Errorf("counting spells: %w", err)
	}
	if n > 0 {
		rep.SpellsSkipped = true
		s.logger.Info("spells already seeded", zap.Int("count", n))
	} else {
		added, failed, err := s.seedSpells(ctx)
		if err != nil {
			return rep, err
		}
		rep.SpellsAdded, rep.Failed = added, rep.Failed+failed
	}

	s.logger.Info("catalog seeding complete",
		zap.Int("monsters", rep.MonstersAdded),
		zap.Int("spells", rep.SpellsAdded),
		zap.Int("failed", rep.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rep, nil
}

func (s *Seeder) take(refs []Reference) []Reference {
	if s.limit > 0 && len(refs) > s.limit {
		return refs[:s.limit]
	}
	return refs
}

func (s *Seeder) seedMonsters(ctx context.Context) (added, failed int, err error) {
	refs, err := s.feed.ListMonsters(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing monsters: %w", err)
	}
	var batch []Monster
	for _, ref := range s.take(refs) {
		doc, err := s.feed.Fetch(ctx, ref.URL)
		if err != nil {
			failed++
			s.logger.Warn("fetching monster failed", zap.String("url", ref.URL), zap.Error(err))
			continue
		}
		m, err := DecodeMonster(doc)
		if err != nil {
			failed++
			s.logger.Warn("decoding monster failed", zap.String("url", ref.URL), zap.Error(err))
			continue
		}
		s.logger.Debug("fetched monster", zap.String("name", m.Name))
		batch = append(batch, m)
	}
	if err := s.repo.InsertMonsters(ctx, batch); err != nil {
		return 0, failed, fmt.Errorf("inserting monsters: %w", err)
	}
	return len(batch), failed, nil
}

func (s *Seeder) seedSpells(ctx context.Context) (added, failed int, err error) {
	refs, err := s.feed.ListSpells(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing spells: %w", err)
	}
	var batch []Spell
	for _, ref := range s.take(refs) {
		doc, err := s.feed.Fetch(ctx, ref.URL)
		if err != nil {
			failed++
			s.logger.Warn("fetching spell failed", zap.String("url", ref.URL), zap.Error(err))
			continue
		}
		sp, err := DecodeSpell(doc)
		if err != nil {
			failed++
			s.logger.Warn("decoding spell failed", zap.String("url", ref.URL), zap.Error(err))
			continue
		}
		batch = append(batch, sp)
	}
	if err := s.repo.InsertSpells(ctx, batch); err != nil {
		return 0, failed, fmt.Errorf("inserting spells: %w", err)
	}
	return len(batch), failed, nil
}

type monsterDoc struct {
	Index           string          `json:"index"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	ChallengeRating float64         `json:"challenge_rating"`
	HitPoints       int             `json:"hit_points"`
	ArmorClass      json.RawMessage `json:"armor_class"`
}

// DecodeMonster maps a feed monster document onto a Monster with a fresh id.
// armor_class may be a number or a list of {value} objects.
func DecodeMonster(doc json.RawMessage) (Monster, error) {
	var d monsterDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return Monster{}, fmt.Errorf("decoding monster: %w", err)
	}
	if d.Index == "" || d.Name == "" {
		return Monster{}, fmt.Errorf("monster document missing index or name")
	}
	return Monster{
		ID:              uuid.New(),
		Index:           d.Index,
		Name:            d.Name,
		Type:            d.Type,
		ChallengeRating: d.ChallengeRating,
		ArmorClass:      armorClass(d.ArmorClass),
		HitPoints:       d.HitPoints,
		Data:            doc,
	}, nil
}

func armorClass(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var list []struct {
		Value int `json:"value"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0].Value
	}
	return 0
}

type spellDoc struct {
	Index  string `json:"index"`
	Name   string `json:"name"`
	Level  int    `json:"level"`
	School struct {
		Name string `json:"name"`
	} `json:"school"`
}

// DecodeSpell maps a feed spell document onto a Spell with a fresh id.
func DecodeSpell(doc json.RawMessage) (Spell, error) {
	var d spellDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return Spell{}, fmt.Errorf("decoding spell: %w", err)
	}
	if d.Index == "" || d.Name == "" {
		return Spell{}, fmt.Errorf("spell document missing index or name")
	}
	return Spell{
		ID:     uuid.New(),
		Index:  d.Index,
		Name:   d.Name,
		Level:  d.Level,
		School: d.School.Name,
		Data:   doc,
	}, nil
}
