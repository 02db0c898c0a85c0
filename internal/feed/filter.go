package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadFilter is returned for a filter that is not "column=eq.value".
var ErrBadFilter = errors.New("filter must look like column=eq.value")

// Subscription selects changes of one table, optionally narrowed to rows
// whose column equals a value (e.g. movie_id=eq.42).
type Subscription struct {
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`

	column string
	value  string
}

// Parse validates the filter and caches its parts.
func (s *Subscription) Parse() error {
	if strings.TrimSpace(s.Table) == "" {
		return errors.New("table is required")
	}
	if s.Filter == "" {
		return nil
	}
	col, rest, ok := strings.Cut(s.Filter, "=")
	if !ok || col == "" || !strings.HasPrefix(rest, "eq.") {
		return fmt.Errorf("%w: %q", ErrBadFilter, s.Filter)
	}
	s.column = col
	s.value = strings.TrimPrefix(rest, "eq.")
	return nil
}

// Matches reports whether c belongs to this subscription.
func (s Subscription) Matches(c Change) bool {
	if s.Table != c.Table {
		return false
	}
	if s.column == "" {
		return true
	}
	var row map[string]any
	if err := json.Unmarshal(c.Record, &row); err != nil {
		return false
	}
	v, ok := row[s.column]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64) == s.value
	case string:
		return t == s.value
	default:
		return fmt.Sprint(t) == s.value
	}
}
