package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cinedb/cinedb/internal/model"
)

// RatingRepo manages `movie_ratings`.  A (movie, user) pair holds at most
// one row, enforced by the uq_ratings_movie_user key.
type RatingRepo struct{ db *sql.DB }

func NewRatingRepo(db *sql.DB) *RatingRepo { return &RatingRepo{db: db} }

// Upsert records score for the pair and reports whether a new row was
// inserted.  MySQL reports 1 affected row for an insert, 2 for an update
// and 0 when the score was unchanged; LAST_INSERT_ID(id) makes the
// existing row's id available in every case.
func (r *RatingRepo) Upsert(ctx context.Context, movieID, userID uint64, score int) (*model.Rating, bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO movie_ratings (movie_id, user_id, rating) VALUES (?,?,?)
		 ON DUPLICATE KEY UPDATE rating = VALUES(rating), id = LAST_INSERT_ID(id)`,
		movieID, userID, score)
	if err != nil {
		return nil, false, err
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	rt := &model.Rating{ID: uint64(lastID), MovieID: movieID, UserID: &userID, Rating: score}
	if err := r.db.QueryRowContext(ctx,
		"SELECT created_at, updated_at FROM movie_ratings WHERE id = ?", rt.ID).Scan(&rt.CreatedAt, &rt.UpdatedAt); err != nil {
		return nil, false, err
	}
	return rt, affected == 1, nil
}

// ForUser returns the caller's rating of a movie or ErrNotFound.
func (r *RatingRepo) ForUser(ctx context.Context, movieID, userID uint64) (*model.Rating, error) {
	rt := &model.Rating{MovieID: movieID}
	var uid uint64
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, rating, created_at, updated_at FROM movie_ratings WHERE movie_id = ? AND user_id = ? LIMIT 1",
		movieID, userID).Scan(&rt.ID, &uid, &rt.Rating, &rt.CreatedAt, &rt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rt.UserID = &uid
	return rt, nil
}

// Summary returns the average score and the number of ratings.
func (r *RatingRepo) Summary(ctx context.Context, movieID uint64) (model.RatingSummary, error) {
	s := model.RatingSummary{MovieID: movieID}
	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		"SELECT AVG(rating), COUNT(*) FROM movie_ratings WHERE movie_id = ?", movieID).Scan(&avg, &s.Count)
	if err != nil {
		return s, err
	}
	s.Average = avg.Float64
	return s, nil
}
