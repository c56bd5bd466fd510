// Package model holds the catalog entities shared by the scraper, the
// importer and the store.
package model

// Show is a catalog entry. ID is assigned upstream and stable across runs.
type Show struct {
	ID   int          `json:"id"`
	Name string       `json:"name"`
	Cast []CastMember `json:"cast"`
}

// CastMember is a person appearing in a show's cast.
// A nil Birthday means upstream does not know it.
type CastMember struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Birthday *string `json:"birthday"`
}

// WithCast returns a copy of s carrying cast.
func (s Show) WithCast(cast []CastMember) Show {
	s.Cast = cast
	return s
}
