package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/combat"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
	"github.com/thinhdabezt/hexbound-vtt/internal/storage"
)

// Store implements storage.Store over the combatants and combat_sessions
// tables. Stats and snapshots are kept as jsonb in their wire shape.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with migrations applied.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

var _ storage.Store = (*Store)(nil)

// UpsertDefault implements storage.Store.
func (s *Store) UpsertDefault(ctx context.Context, encounterID, tokenID string) (combatant.Combatant, error) {
	var c combatant.Combatant
	err := s.db.QueryRow(ctx, `
		INSERT INTO combatants (encounter_id, token_id, stats)
		VALUES ($1, $2, $3)
		ON CONFLICT (encounter_id, token_id) DO UPDATE SET encounter_id = EXCLUDED.encounter_id
		RETURNING stats`,
		encounterID, tokenID, combatant.New(tokenID),
	).Scan(&c)
	if err != nil {
		return combatant.Combatant{}, wrap("upsert combatant", err)
	}
	return c, nil
}

// GetStats implements storage.Store.
func (s *Store) GetStats(ctx context.Context, encounterID, tokenID string) (combatant.Combatant, error) {
	var c combatant.Combatant
	err := s.db.QueryRow(ctx,
		`SELECT stats FROM combatants WHERE encounter_id = $1 AND token_id = $2`,
		encounterID, tokenID,
	).Scan(&c)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return combatant.Combatant{}, fmt.Errorf("combatant %q: %w", tokenID, storage.ErrNotFound)
		}
		return combatant.Combatant{}, wrap("get combatant", err)
	}
	return c, nil
}

// GetAllStats implements storage.Store.
func (s *Store) GetAllStats(ctx context.Context, encounterID string) ([]combatant.Combatant, error) {
	rows, err := s.db.Query(ctx,
		`SELECT stats FROM combatants WHERE encounter_id = $1 ORDER BY token_id`,
		encounterID,
	)
	if err != nil {
		return nil, wrap("list combatants", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (combatant.Combatant, error) {
		var c combatant.Combatant
		err := row.Scan(&c)
		return c, err
	})
	if err != nil {
		return nil, wrap("scan combatants", err)
	}
	if out == nil {
		out = []combatant.Combatant{}
	}
	return out, nil
}

// SaveStats implements storage.Store.
func (s *Store) SaveStats(ctx context.Context, encounterID string, c combatant.Combatant) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO combatants (encounter_id, token_id, stats)
		VALUES ($1, $2, $3)
		ON CONFLICT (encounter_id, token_id) DO UPDATE SET stats = EXCLUDED.stats, updated_at = NOW()`,
		encounterID, c.TokenID, c,
	)
	return wrap("save combatant", err)
}

// SetPosition implements storage.Store.
func (s *Store) SetPosition(ctx context.Context, encounterID, tokenID string, pos combat.Hex) (combatant.Combatant, error) {
	fresh := combatant.New(tokenID)
	fresh.Q, fresh.R = pos.Q, pos.R
	var c combatant.Combatant
	err := s.db.QueryRow(ctx, `
		INSERT INTO combatants (encounter_id, token_id, stats)
		VALUES ($1, $2, $3)
		ON CONFLICT (encounter_id, token_id) DO UPDATE
		SET stats = combatants.stats || jsonb_build_object('q', $4::int, 'r', $5::int),
		    updated_at = NOW()
		RETURNING stats`,
		encounterID, tokenID, fresh, pos.Q, pos.R,
	).Scan(&c)
	if err != nil {
		return combatant.Combatant{}, wrap("set position", err)
	}
	return c, nil
}

// Positions implements storage.Store.
func (s *Store) Positions(ctx context.Context, encounterID string) (map[string]combat.Hex, error) {
	rows, err := s.db.Query(ctx, `
		SELECT token_id, COALESCE((stats->>'q')::int, 0), COALESCE((stats->>'r')::int, 0)
		FROM combatants WHERE encounter_id = $1`,
		encounterID,
	)
	if err != nil {
		return nil, wrap("list positions", err)
	}
	defer rows.Close()

	out := map[string]combat.Hex{}
	for rows.Next() {
		var id string
		var h combat.Hex
		if err := rows.Scan(&id, &h.Q, &h.R); err != nil {
			return nil, wrap("scan position", err)
		}
		out[id] = h
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list positions", err)
	}
	return out, nil
}

// SaveSessionState implements storage.Store.
func (s *Store) SaveSessionState(ctx context.Context, encounterID string, sess *combat.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO combat_sessions (encounter_id, state)
		VALUES ($1, $2)
		ON CONFLICT (encounter_id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`,
		encounterID, sess,
	)
	return wrap("save session", err)
}

// LoadSessionState implements storage.Store.
func (s *Store) LoadSessionState(ctx context.Context, encounterID string) (*combat.Session, error) {
	sess := combat.NewSession()
	err := s.db.QueryRow(ctx,
		`SELECT state FROM combat_sessions WHERE encounter_id = $1`,
		encounterID,
	).Scan(sess)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %q: %w", encounterID, storage.ErrNotFound)
		}
		return nil, wrap("load session", err)
	}
	return sess, nil
}
