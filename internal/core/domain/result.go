package domain

import "time"

// SearchResult is what a consumer sees for one query key: the ranked list,
// the closest entity, compass and favorite state combined.
//
// When Err is set, POIs holds the last successful list (stale but
// displayable) or nothing if no search has succeeded yet. HasResult tells
// the two apart, since a successful list may itself be empty.
type SearchResult struct {
	Key       QueryKey     `json:"key"`
	State     RefreshState `json:"state"`
	POIs      []POI        `json:"pois"`
	ClosestID string       `json:"closest_id,omitempty"` // empty: no directional target
	Location  *Location    `json:"location,omitempty"`   // fix used to produce POIs
	UpdatedAt time.Time    `json:"updated_at"`
	HasResult bool         `json:"has_result"`
	Err       error        `json:"-"`
	Error     string       `json:"error,omitempty"`
}

// Stale reports whether the result carries an error alongside a previously
// successful list.
func (r SearchResult) Stale() bool {
	return r.Err != nil && r.HasResult
}

// Blocking reports whether the consumer has nothing to show but an error.
func (r SearchResult) Blocking() bool {
	return r.Err != nil && !r.HasResult
}
