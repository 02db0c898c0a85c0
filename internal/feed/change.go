// Package feed carries row-level change notifications from the handlers
// that mutate tables to websocket subscribers.  Changes travel over a
// RabbitMQ topic exchange so every API instance sees every change; the
// local Hub fans them out to the connected clients whose subscription
// matches.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Change types.
const (
	Insert = "INSERT"
	Update = "UPDATE"
	Delete = "DELETE"
)

// Tables that publish changes.
const (
	TableMovies        = "movies"
	TableMovieRatings  = "movie_ratings"
	TableMovieComments = "movie_comments"
	TableForumTopics   = "forum_topics"
	TableForumReplies  = "forum_replies"
	TableProfiles      = "profiles"
)

// Change is one row-level event.  Record holds the row after the change
// (the removed row for DELETE); Old holds the row before an UPDATE.
type Change struct {
	Table  string          `json:"table"`
	Type   string          `json:"type"`
	Record json.RawMessage `json:"record"`
	Old    json.RawMessage `json:"old,omitempty"`
	At     time.Time       `json:"at"`
}

// NewChange marshals rec into a Change.
func NewChange(table, typ string, rec any) (Change, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return Change{}, fmt.Errorf("marshal %s record: %w", table, err)
	}
	return Change{Table: table, Type: typ, Record: body, At: time.Now().UTC()}, nil
}

// WithOld returns c with Old set to the marshalled old row.
func (c Change) WithOld(old any) (Change, error) {
	body, err := json.Marshal(old)
	if err != nil {
		return c, fmt.Errorf("marshal old %s record: %w", c.Table, err)
	}
	c.Old = body
	return c, nil
}

// RoutingKey is "<table>.<type>" in lower case, e.g. "movie_comments.insert".
func (c Change) RoutingKey() string {
	return c.Table + "." + strings.ToLower(c.Type)
}

// Decode unmarshals Record into dst.
func (c Change) Decode(dst any) error {
	return json.Unmarshal(c.Record, dst)
}

// Publisher sends a change to every interested subscriber.  Publishing is
// best effort: handlers log a failed publish and keep the response.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Discard drops every change.  It stands in when the feed is disabled.
type Discard struct{}

func (Discard) Publish(context.Context, Change) error { return nil }
