package model

import "time"

// Rating is a row in `movie_ratings`.  A user holds at most one rating per
// movie; re-rating updates the existing row.
type Rating struct {
	ID        uint64    `json:"id"`
	MovieID   uint64    `json:"movie_id"`
	UserID    *uint64   `json:"user_id,omitempty"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RatingSummary aggregates the ratings of one movie.
type RatingSummary struct {
	MovieID uint64  `json:"movie_id"`
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}

// Comment is a row in `movie_comments`.  Author fields are joined from
// profiles for display and are empty for anonymous rows.
type Comment struct {
	ID         uint64    `json:"id"`
	MovieID    uint64    `json:"movie_id"`
	UserID     *uint64   `json:"user_id,omitempty"`
	AuthorName string    `json:"author_name,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
