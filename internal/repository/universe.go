package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// UniverseRepository implements service.UniverseRepo over product_universes
// and user_universe_access. Adapted from the teacher's folder.go, which
// resolved a user's visible folders the same way: a join table plus a
// partial unique index enforcing at most one default per user.
type UniverseRepository struct {
	pool *pgxpool.Pool
}

// NewUniverseRepository creates a UniverseRepository.
func NewUniverseRepository(pool *pgxpool.Pool) *UniverseRepository {
	return &UniverseRepository{pool: pool}
}

var _ service.UniverseRepo = (*UniverseRepository)(nil)

// Create inserts a new product universe.
func (r *UniverseRepository) Create(ctx context.Context, universe *model.ProductUniverse) error {
	if universe.ID == "" {
		universe.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO product_universes (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		universe.ID, universe.Name, universe.Description,
	).Scan(&universe.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository.Create: %w", err)
	}
	return nil
}

// List returns every product universe, alphabetically by name.
func (r *UniverseRepository) List(ctx context.Context) ([]model.ProductUniverse, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, created_at FROM product_universes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("repository.List: %w", err)
	}
	defer rows.Close()
	return scanUniverses(rows)
}

// GrantAccess gives userID visibility into universeID. When isDefault is
// true, any previous default for that user is cleared first so the partial
// unique index on user_universe_access never rejects the insert.
func (r *UniverseRepository) GrantAccess(ctx context.Context, userID, universeID string, isDefault bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository.GrantAccess: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if isDefault {
		if _, err := tx.Exec(ctx, `UPDATE user_universe_access SET is_default = false WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("repository.GrantAccess: clear default: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_universe_access (id, user_id, universe_id, is_default)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, universe_id) DO UPDATE SET is_default = $4`,
		uuid.NewString(), userID, universeID, isDefault,
	)
	if err != nil {
		return fmt.Errorf("repository.GrantAccess: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository.GrantAccess: commit: %w", err)
	}
	return nil
}

// AccessibleTo lists the universes granted to userID.
func (r *UniverseRepository) AccessibleTo(ctx context.Context, userID string) ([]model.ProductUniverse, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pu.id, pu.name, pu.description, pu.created_at
		FROM product_universes pu
		JOIN user_universe_access a ON a.universe_id = pu.id
		WHERE a.user_id = $1
		ORDER BY pu.name`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.AccessibleTo: %w", err)
	}
	defer rows.Close()
	return scanUniverses(rows)
}

// DefaultFor returns userID's default universe, or nil if none is set.
func (r *UniverseRepository) DefaultFor(ctx context.Context, userID string) (*model.ProductUniverse, error) {
	var u model.ProductUniverse
	err := r.pool.QueryRow(ctx, `
		SELECT pu.id, pu.name, pu.description, pu.created_at
		FROM product_universes pu
		JOIN user_universe_access a ON a.universe_id = pu.id
		WHERE a.user_id = $1 AND a.is_default`, userID,
	).Scan(&u.ID, &u.Name, &u.Description, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.DefaultFor: %w", err)
	}
	return &u, nil
}

func scanUniverses(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]model.ProductUniverse, error) {
	var out []model.ProductUniverse
	for rows.Next() {
		var u model.ProductUniverse
		if err := rows.Scan(&u.ID, &u.Name, &u.Description, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan universe: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
