// Package catalog derives filter facets from a movie list and applies
// free-text and facet filters to it.  Everything here is in-memory and
// side-effect free except View, which owns a mutable copy.
package catalog

import (
	"sort"

	"github.com/cinedb/cinedb/internal/model"
)

// Option is one selectable facet value.  Label and Value are identical
// because facet values come straight from the data.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// FacetSet holds the selectable values for every facet.
type FacetSet struct {
	Genres    []Option `json:"genres"`
	Ratings   []Option `json:"ratings"`
	Languages []Option `json:"languages"`
	Years     []Option `json:"years"`
}

// Facets collects the distinct non-empty values of genre, rating and
// language in ascending order, and the distinct release years newest
// first.  Movies without a parseable release date contribute no year.
func Facets(movies []model.Movie) FacetSet {
	genres := map[string]struct{}{}
	ratings := map[string]struct{}{}
	languages := map[string]struct{}{}
	years := map[string]struct{}{}

	for _, m := range movies {
		addNonEmpty(genres, m.Genre)
		addNonEmpty(ratings, m.RatingValue())
		addNonEmpty(languages, m.LanguageValue())
		if y, ok := releaseYear(m.ReleaseDate); ok {
			years[y] = struct{}{}
		}
	}

	// Years are always four digits, so string order is numeric order and
	// the value stays exactly what Filter compares against.
	ys := make([]string, 0, len(years))
	for y := range years {
		ys = append(ys, y)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ys)))
	yearOpts := make([]Option, 0, len(ys))
	for _, y := range ys {
		yearOpts = append(yearOpts, Option{Label: y, Value: y})
	}

	return FacetSet{
		Genres:    sortedOptions(genres),
		Ratings:   sortedOptions(ratings),
		Languages: sortedOptions(languages),
		Years:     yearOpts,
	}
}

func addNonEmpty(set map[string]struct{}, v string) {
	if v != "" {
		set[v] = struct{}{}
	}
}

func sortedOptions(set map[string]struct{}) []Option {
	vals := make([]string, 0, len(set))
	for v := range set {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	out := make([]Option, 0, len(vals))
	for _, v := range vals {
		out = append(out, Option{Label: v, Value: v})
	}
	return out
}

// releaseYear returns the 4-digit year prefix of a YYYY-MM-DD date.
func releaseYear(date string) (string, bool) {
	if len(date) < 4 {
		return "", false
	}
	for i := 0; i < 4; i++ {
		if date[i] < '0' || date[i] > '9' {
			return "", false
		}
	}
	return date[:4], true
}
