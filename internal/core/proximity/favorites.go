package proximity

import "github.com/samirrijal/nearby/internal/core/domain"

// MergeFavorites overlays a freshly polled favorites set onto pois.
//
// The set changed when its size differs or when any new id was not known
// before; both checks are needed since a same-size swap keeps the size.
// On change every POI's flag is reset from next and *current is replaced.
// Otherwise nothing is touched and false is returned.
func MergeFavorites(current *domain.FavoriteSet, next domain.FavoriteSet, pois []domain.POI) bool {
	if current.Equal(next) {
		return false
	}
	ApplyFavorites(next, pois)
	*current = next
	return true
}

// ApplyFavorites stamps IsFavorite on every POI by membership in set.
func ApplyFavorites(set domain.FavoriteSet, pois []domain.POI) {
	for i := range pois {
		pois[i].IsFavorite = set.Has(pois[i].ID)
	}
}
