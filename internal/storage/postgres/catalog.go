package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thinhdabezt/hexbound-vtt/internal/catalog"
)

// CatalogRepository persists reference monsters and spells.
type CatalogRepository struct {
	db *pgxpool.Pool
}

// NewCatalogRepository creates a CatalogRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCatalogRepository(db *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db: db}
}

var _ catalog.Repository = (*CatalogRepository)(nil)

// CountMonsters implements catalog.Repository.
func (r *CatalogRepository) CountMonsters(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM monsters`).Scan(&n); err != nil {
		return 0, wrap("count monsters", err)
	}
	return n, nil
}

// InsertMonsters implements catalog.Repository in a single batch.
func (r *CatalogRepository) InsertMonsters(ctx context.Context, ms []catalog.Monster) error {
	if len(ms) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range ms {
		batch.Queue(`
			INSERT INTO monsters (id, slug, name, type, challenge_rating, armor_class, hit_points, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (slug) DO NOTHING`,
			m.ID, m.Index, m.Name, m.Type, m.ChallengeRating, m.ArmorClass, m.HitPoints, []byte(m.Data),
		)
	}
	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return wrap("insert monsters", err)
	}
	return nil
}

// ListMonsters implements catalog.Repository.
func (r *CatalogRepository) ListMonsters(ctx context.Context, limit int) ([]catalog.Monster, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, slug, name, type, challenge_rating, armor_class, hit_points, data
		FROM monsters ORDER BY name LIMIT $1`, lim)
	if err != nil {
		return nil, wrap("list monsters", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Monster, error) {
		var m catalog.Monster
		var data []byte
		err := row.Scan(&m.ID, &m.Index, &m.Name, &m.Type, &m.ChallengeRating, &m.ArmorClass, &m.HitPoints, &data)
		m.Data = data
		return m, err
	})
	if err != nil {
		return nil, wrap("scan monsters", err)
	}
	return out, nil
}

// CountSpells implements catalog.Repository.
func (r *CatalogRepository) CountSpells(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM spells`).Scan(&n); err != nil {
		return 0, wrap("count spells", err)
	}
	return n, nil
}

// InsertSpells implements catalog.Repository in a single batch.
func (r *CatalogRepository) InsertSpells(ctx context.Context, ss []catalog.Spell) error {
	if len(ss) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range ss {
		batch.Queue(`
			INSERT INTO spells (id, slug, name, level, school, data)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (slug) DO NOTHING`,
			s.ID, s.Index, s.Name, s.Level, s.School, []byte(s.Data),
		)
	}
	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return wrap("insert spells", err)
	}
	return nil
}

// ListSpells implements catalog.Repository.
func (r *CatalogRepository) ListSpells(ctx context.Context, limit int) ([]catalog.Spell, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, slug, name, level, school, data
		FROM spells ORDER BY name LIMIT $1`, lim)
	if err != nil {
		return nil, wrap("list spells", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Spell, error) {
		var s catalog.Spell
		var data []byte
		err := row.Scan(&s.ID, &s.Index, &s.Name, &s.Level, &s.School, &data)
		s.Data = data
		return s, err
	})
	if err != nil {
		return nil, wrap("scan spells", err)
	}
	return out, nil
}
