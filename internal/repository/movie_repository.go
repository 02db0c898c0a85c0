package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cinedb/cinedb/internal/model"
)

// MovieRepo encapsulates queries on `movies` and the cascade into the
// rating and comment tables on delete.
type MovieRepo struct{ db *sql.DB }

func NewMovieRepo(db *sql.DB) *MovieRepo { return &MovieRepo{db: db} }

const movieSelect = `SELECT id, title, DATE_FORMAT(release_date, '%Y-%m-%d'), duration, genre, director, synopsis,
	poster_url, trailer_url, imdb_rating, language, rating, registered_by, created_at
	FROM movies`

type rowScanner interface{ Scan(dest ...any) error }

func scanMovie(s rowScanner) (model.Movie, error) {
	var (
		m        model.Movie
		release  sql.NullString
		poster   sql.NullString
		trailer  sql.NullString
		imdb     sql.NullFloat64
		language sql.NullString
		rating   sql.NullString
		regBy    sql.NullInt64
	)
	if err := s.Scan(&m.ID, &m.Title, &release, &m.Duration, &m.Genre, &m.Director, &m.Synopsis,
		&poster, &trailer, &imdb, &language, &rating, &regBy, &m.CreatedAt); err != nil {
		return m, err
	}
	m.ReleaseDate = release.String
	m.PosterURL = nullStr(poster)
	m.TrailerURL = nullStr(trailer)
	m.Language = nullStr(language)
	m.Rating = nullStr(rating)
	if imdb.Valid {
		v := imdb.Float64
		m.IMDBRating = &v
	}
	if regBy.Valid {
		v := uint64(regBy.Int64)
		m.RegisteredBy = &v
	}
	return m, nil
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// List returns every movie, newest first.
func (r *MovieRepo) List(ctx context.Context) ([]model.Movie, error) {
	rows, err := r.db.QueryContext(ctx, movieSelect+" ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Movie{}
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetByID returns one movie or ErrNotFound.
func (r *MovieRepo) GetByID(ctx context.Context, id uint64) (*model.Movie, error) {
	m, err := scanMovie(r.db.QueryRowContext(ctx, movieSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func dateArg(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Create inserts m and reloads it so ID and CreatedAt are populated.
func (r *MovieRepo) Create(ctx context.Context, m *model.Movie) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO movies (title, release_date, duration, genre, director, synopsis,
		 poster_url, trailer_url, imdb_rating, language, rating, registered_by)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.Title, dateArg(m.ReleaseDate), m.Duration, m.Genre, m.Director, m.Synopsis,
		m.PosterURL, m.TrailerURL, m.IMDBRating, m.Language, m.Rating, m.RegisteredBy)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	saved, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*m = *saved
	return nil
}

// Update rewrites the mutable columns of m.  ID, CreatedAt and
// RegisteredBy are never changed.
func (r *MovieRepo) Update(ctx context.Context, m *model.Movie) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE movies SET title = ?, release_date = ?, duration = ?, genre = ?, director = ?, synopsis = ?,
		 poster_url = ?, trailer_url = ?, imdb_rating = ?, language = ?, rating = ?
		 WHERE id = ?`,
		m.Title, dateArg(m.ReleaseDate), m.Duration, m.Genre, m.Director, m.Synopsis,
		m.PosterURL, m.TrailerURL, m.IMDBRating, m.Language, m.Rating, m.ID)
	if err != nil {
		return err
	}
	saved, err := r.GetByID(ctx, m.ID)
	if err != nil {
		return err
	}
	*m = *saved
	return nil
}

// Delete removes a movie together with its ratings and comments in one
// transaction.  It returns the deleted row, or ErrNotFound.
func (r *MovieRepo) Delete(ctx context.Context, id uint64) (_ *model.Movie, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	m, err := scanMovie(tx.QueryRowContext(ctx, movieSelect+" WHERE id = ? FOR UPDATE", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM movie_ratings WHERE movie_id = ?", id); err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM movie_comments WHERE movie_id = ?", id); err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM movies WHERE id = ?", id); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &m, nil
}
