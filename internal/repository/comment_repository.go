package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cinedb/cinedb/internal/model"
)

// CommentRepo manages `movie_comments`.
type CommentRepo struct{ db *sql.DB }

func NewCommentRepo(db *sql.DB) *CommentRepo { return &CommentRepo{db: db} }

const commentSelect = `SELECT c.id, c.movie_id, c.user_id, COALESCE(p.name, ''), c.content, c.created_at, c.updated_at
	FROM movie_comments c LEFT JOIN profiles p ON p.id = c.user_id`

func scanComment(s rowScanner) (model.Comment, error) {
	var (
		c   model.Comment
		uid sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.MovieID, &uid, &c.AuthorName, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	if uid.Valid {
		v := uint64(uid.Int64)
		c.UserID = &v
	}
	return c, nil
}

// ListByMovie returns a movie's comments, newest first.
func (r *CommentRepo) ListByMovie(ctx context.Context, movieID uint64) ([]model.Comment, error) {
	rows, err := r.db.QueryContext(ctx, commentSelect+" WHERE c.movie_id = ? ORDER BY c.created_at DESC, c.id DESC", movieID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetByID returns one comment or ErrNotFound.
func (r *CommentRepo) GetByID(ctx context.Context, id uint64) (*model.Comment, error) {
	c, err := scanComment(r.db.QueryRowContext(ctx, commentSelect+" WHERE c.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a comment and returns the stored row.
func (r *CommentRepo) Create(ctx context.Context, movieID, userID uint64, content string) (*model.Comment, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO movie_comments (movie_id, user_id, content) VALUES (?,?,?)", movieID, userID, content)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, uint64(id))
}

// Delete removes a comment.  Only the author or a moderator may delete;
// the caller states which through canModerate.
func (r *CommentRepo) Delete(ctx context.Context, id, callerID uint64, canModerate bool) (*model.Comment, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canModerate && (c.UserID == nil || *c.UserID != callerID) {
		return nil, ErrForbidden
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM movie_comments WHERE id = ?", id); err != nil {
		return nil, err
	}
	return c, nil
}
