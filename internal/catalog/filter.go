package catalog

import (
	"strings"

	"github.com/cinedb/cinedb/internal/model"
)

// Filters is the facet part of the filter state.  An empty field matches
// every movie.
type Filters struct {
	Genre    string `json:"genre,omitempty" query:"genre"`
	Rating   string `json:"rating,omitempty" query:"rating"`
	Language string `json:"language,omitempty" query:"language"`
	Year     string `json:"year,omitempty" query:"year"`
}

// IsZero reports whether no facet is set.
func (f Filters) IsZero() bool { return f == Filters{} }

// Filter returns the movies matching term and f, in source order.  The
// term is a case-insensitive substring of title, director or genre.  The
// result is always a new slice; movies is not modified.
func Filter(movies []model.Movie, term string, f Filters) []model.Movie {
	needle := strings.ToLower(strings.TrimSpace(term))
	out := make([]model.Movie, 0, len(movies))
	for _, m := range movies {
		if needle != "" && !matchesTerm(m, needle) {
			continue
		}
		if f.Genre != "" && m.Genre != f.Genre {
			continue
		}
		if f.Rating != "" && m.RatingValue() != f.Rating {
			continue
		}
		if f.Language != "" && m.LanguageValue() != f.Language {
			continue
		}
		if f.Year != "" {
			y, ok := releaseYear(m.ReleaseDate)
			if !ok || y != f.Year {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

func matchesTerm(m model.Movie, needle string) bool {
	return strings.Contains(strings.ToLower(m.Title), needle) ||
		strings.Contains(strings.ToLower(m.Director), needle) ||
		strings.Contains(strings.ToLower(m.Genre), needle)
}
