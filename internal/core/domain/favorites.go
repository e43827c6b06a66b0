package domain

// FavoriteSet is a set of POI identifiers.
type FavoriteSet map[string]struct{}

// NewFavoriteSet builds a set from ids.
func NewFavoriteSet(ids ...string) FavoriteSet {
	s := make(FavoriteSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership. A nil set contains nothing.
func (s FavoriteSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Equal reports whether both sets hold exactly the same ids.
func (s FavoriteSet) Equal(o FavoriteSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range o {
		if !s.Has(id) {
			return false
		}
	}
	return true
}

// IDs returns the members in no particular order.
func (s FavoriteSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}
