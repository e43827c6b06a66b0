package postgres

import (
	"context"

	"github.com/samirrijal/nearby/internal/core/domain"
)

// FavoriteRepo implements ports.FavoriteRepository with pgx. Favorites
// are written by the account service; this side only reads them.
type FavoriteRepo struct {
	db *DB
}

// NewFavoriteRepo creates a new FavoriteRepo.
func NewFavoriteRepo(db *DB) *FavoriteRepo {
	return &FavoriteRepo{db: db}
}

// ListFavorites returns the favorite POI ids of a user in one category.
func (r *FavoriteRepo) ListFavorites(ctx context.Context, userID string, category domain.Category) (domain.FavoriteSet, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT f.poi_id
		FROM favorites f
		JOIN pois p ON p.id = f.poi_id
		WHERE f.user_id = $1 AND p.category = $2
	`, userID, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := domain.FavoriteSet{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}
