package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cinedb/cinedb/internal/feed"
	"github.com/cinedb/cinedb/internal/model"
)

// View owns a movie list together with a search term and facet filters
// and keeps the filtered result and facet options current.  Every setter
// recomputes; readers get copies.
type View struct {
	mu      sync.RWMutex
	movies  []model.Movie
	term    string
	filters Filters
	visible []model.Movie
	facets  FacetSet
	loaded  bool
	// journal holds the upserts (and nil for removals) applied since
	// BeginSync; nil when no sync is running.
	journal map[uint64]*model.Movie
}

func NewView() *View {
	v := &View{}
	v.recompute()
	return v
}

// SetMovies replaces the source list.
func (v *View) SetMovies(movies []model.Movie) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.movies = append([]model.Movie(nil), movies...)
	v.loaded = true
	v.recompute()
}

// BeginSync starts recording changes so that a list read from the
// database afterwards can be installed with FinishSync without losing
// changes applied in between.
func (v *View) BeginSync() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.journal = make(map[uint64]*model.Movie)
}

// FinishSync replaces the source list with movies and replays every change
// recorded since BeginSync on top of it.  Without a running sync it acts
// like SetMovies.
func (v *View) FinishSync(movies []model.Movie) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := make([]model.Movie, 0, len(movies)+len(v.journal))
	seen := make(map[uint64]bool, len(movies))
	for _, m := range movies {
		seen[m.ID] = true
		if j, ok := v.journal[m.ID]; ok {
			if j == nil {
				continue
			}
			m = *j
		}
		next = append(next, m)
	}
	var added []model.Movie
	for id, j := range v.journal {
		if j != nil && !seen[id] {
			added = append(added, *j)
		}
	}
	sort.Slice(added, func(i, k int) bool { return added[i].ID < added[k].ID })
	v.movies = append(next, added...)
	v.journal = nil
	v.loaded = true
	v.recompute()
}

// AbortSync stops recording without touching the list.
func (v *View) AbortSync() {
	v.mu.Lock()
	v.journal = nil
	v.mu.Unlock()
}

// Loaded reports whether SetMovies has been called.
func (v *View) Loaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

func (v *View) SetTerm(term string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.term = term
	v.recompute()
}

func (v *View) SetFilters(f Filters) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filters = f
	v.recompute()
}

// ClearFilters resets the facet filters and keeps the search term.
func (v *View) ClearFilters() {
	v.SetFilters(Filters{})
}

// Upsert inserts m or replaces the movie with the same id.
func (v *View) Upsert(m model.Movie) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.journal != nil {
		cp := m
		v.journal[m.ID] = &cp
	}
	for i := range v.movies {
		if v.movies[i].ID == m.ID {
			v.movies[i] = m
			v.recompute()
			return
		}
	}
	v.movies = append(v.movies, m)
	v.recompute()
}

// Remove drops the movie with id; it reports whether one was present.
func (v *View) Remove(id uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.journal != nil {
		v.journal[id] = nil
	}
	for i := range v.movies {
		if v.movies[i].ID == id {
			v.movies = append(v.movies[:i:i], v.movies[i+1:]...)
			v.recompute()
			return true
		}
	}
	return false
}

// Apply reconciles the source list with a movies change.  Other tables
// are ignored.
func (v *View) Apply(ch feed.Change) error {
	if ch.Table != feed.TableMovies {
		return nil
	}
	var m model.Movie
	if err := ch.Decode(&m); err != nil {
		return fmt.Errorf("decode movie change: %w", err)
	}
	switch ch.Type {
	case feed.Insert, feed.Update:
		v.Upsert(m)
	case feed.Delete:
		v.Remove(m.ID)
	}
	return nil
}

// Movies returns a copy of the unfiltered list.
func (v *View) Movies() []model.Movie {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]model.Movie(nil), v.movies...)
}

// Visible returns a copy of the filtered list.
func (v *View) Visible() []model.Movie {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]model.Movie(nil), v.visible...)
}

// Facets returns the facet options derived from the unfiltered list.
func (v *View) Facets() FacetSet {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.facets
}

// Query filters the current list without touching the view's own state.
// Concurrent HTTP requests use this instead of SetTerm/SetFilters.
func (v *View) Query(term string, f Filters) ([]model.Movie, FacetSet) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Filter(v.movies, term, f), v.facets
}

// recompute must be called with mu held for writing.
func (v *View) recompute() {
	v.visible = Filter(v.movies, v.term, v.filters)
	v.facets = Facets(v.movies)
}
