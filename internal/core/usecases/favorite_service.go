package usecases

import (
	"context"
	"fmt"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/ports"
)

// FavoriteService reads users' favorite POIs.
type FavoriteService struct {
	favorites ports.FavoriteRepository
}

// NewFavoriteService creates a new FavoriteService.
func NewFavoriteService(favorites ports.FavoriteRepository) *FavoriteService {
	return &FavoriteService{favorites: favorites}
}

// ForUser returns the favorite store of one user. Anonymous sessions get
// nil: there is nothing to poll.
func (s *FavoriteService) ForUser(userID string) ports.FavoriteStore {
	if s == nil || userID == "" {
		return nil
	}
	return userFavorites{repo: s.favorites, userID: userID}
}

type userFavorites struct {
	repo   ports.FavoriteRepository
	userID string
}

func (u userFavorites) ListFavorites(ctx context.Context, category domain.Category) (domain.FavoriteSet, error) {
	set, err := u.repo.ListFavorites(ctx, u.userID, category)
	if err != nil {
		return nil, fmt.Errorf("list favorites of %s: %w", u.userID, err)
	}
	if set == nil {
		set = domain.FavoriteSet{}
	}
	return set, nil
}
