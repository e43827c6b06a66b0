package domain

// QueryKey identifies one logical screen: a session watching one category,
// optionally narrowed by a scope such as a route-direction.
type QueryKey struct {
	Session  string   `json:"session"`
	Category Category `json:"category"`
	Scope    string   `json:"scope,omitempty"`
}

func (k QueryKey) String() string {
	s := k.Session + "/" + string(k.Category)
	if k.Scope != "" {
		s += "/" + k.Scope
	}
	return s
}
