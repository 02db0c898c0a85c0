package model

import "time"

// Movie is a row in the `movies` table.  ReleaseDate is kept as the
// YYYY-MM-DD string so the catalog can derive years without a time zone;
// it is empty when the date is unknown.  Optional columns are pointers.
// ID and CreatedAt never change after insert.
type Movie struct {
	ID           uint64    `json:"id"`
	Title        string    `json:"title"`
	ReleaseDate  string    `json:"release_date,omitempty"`
	Duration     int       `json:"duration"`
	Genre        string    `json:"genre"`
	Director     string    `json:"director"`
	Synopsis     string    `json:"synopsis"`
	PosterURL    *string   `json:"poster_url,omitempty"`
	TrailerURL   *string   `json:"trailer_url,omitempty"`
	IMDBRating   *float64  `json:"imdb_rating,omitempty"`
	Language     *string   `json:"language,omitempty"`
	Rating       *string   `json:"rating,omitempty"`
	RegisteredBy *uint64   `json:"registered_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// LanguageValue returns the language or "" when unset.
func (m Movie) LanguageValue() string {
	if m.Language == nil {
		return ""
	}
	return *m.Language
}

// RatingValue returns the age rating or "" when unset.
func (m Movie) RatingValue() string {
	if m.Rating == nil {
		return ""
	}
	return *m.Rating
}
