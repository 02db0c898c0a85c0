package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/cinedb/cinedb/internal/model"
)

// ForumRepo manages forum categories, topics and replies.  Topic listings
// carry the reply count and last activity time computed in the same
// query.
type ForumRepo struct{ db *sql.DB }

func NewForumRepo(db *sql.DB) *ForumRepo { return &ForumRepo{db: db} }

// ListCategories returns every category ordered by name.
func (r *ForumRepo) ListCategories(ctx context.Context) ([]model.ForumCategory, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, description, created_at FROM forum_categories ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ForumCategory{}
	for rows.Next() {
		var c model.ForumCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCategory inserts a category; duplicate names yield ErrConflict.
func (r *ForumRepo) CreateCategory(ctx context.Context, c *model.ForumCategory) error {
	res, err := r.db.ExecContext(ctx, "INSERT INTO forum_categories (name, description) VALUES (?,?)",
		strings.TrimSpace(c.Name), c.Description)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	return r.db.QueryRowContext(ctx, "SELECT created_at FROM forum_categories WHERE id = ?", c.ID).Scan(&c.CreatedAt)
}

const topicSelect = `SELECT t.id, t.category_id, t.user_id, COALESCE(p.name, ''), t.title, t.content, t.created_at,
	(SELECT COUNT(*) FROM forum_replies r WHERE r.topic_id = t.id),
	COALESCE((SELECT MAX(r.created_at) FROM forum_replies r WHERE r.topic_id = t.id), t.created_at)
	FROM forum_topics t LEFT JOIN profiles p ON p.id = t.user_id`

func scanTopic(s rowScanner) (model.ForumTopic, error) {
	var (
		t   model.ForumTopic
		uid sql.NullInt64
	)
	if err := s.Scan(&t.ID, &t.CategoryID, &uid, &t.AuthorName, &t.Title, &t.Content, &t.CreatedAt,
		&t.ReplyCount, &t.LastActivity); err != nil {
		return t, err
	}
	if uid.Valid {
		v := uint64(uid.Int64)
		t.UserID = &v
	}
	return t, nil
}

// ListTopics returns a category's topics, most recently active first.
func (r *ForumRepo) ListTopics(ctx context.Context, categoryID uint64) ([]model.ForumTopic, error) {
	rows, err := r.db.QueryContext(ctx,
		topicSelect+" WHERE t.category_id = ? ORDER BY 9 DESC, t.id DESC", categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ForumTopic{}
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTopic returns one topic with its aggregates or ErrNotFound.
func (r *ForumRepo) GetTopic(ctx context.Context, id uint64) (*model.ForumTopic, error) {
	t, err := scanTopic(r.db.QueryRowContext(ctx, topicSelect+" WHERE t.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTopic inserts a topic into an existing category.
func (r *ForumRepo) CreateTopic(ctx context.Context, categoryID, userID uint64, title, content string) (*model.ForumTopic, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM forum_categories WHERE id = ?", categoryID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO forum_topics (category_id, user_id, title, content) VALUES (?,?,?,?)",
		categoryID, userID, title, content)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetTopic(ctx, uint64(id))
}

// ListReplies returns a topic's replies, oldest first.
func (r *ForumRepo) ListReplies(ctx context.Context, topicID uint64) ([]model.ForumReply, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.id, r.topic_id, r.user_id, COALESCE(p.name, ''), r.content, r.created_at
		 FROM forum_replies r LEFT JOIN profiles p ON p.id = r.user_id
		 WHERE r.topic_id = ? ORDER BY r.created_at, r.id`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ForumReply{}
	for rows.Next() {
		var (
			rp  model.ForumReply
			uid sql.NullInt64
		)
		if err := rows.Scan(&rp.ID, &rp.TopicID, &uid, &rp.AuthorName, &rp.Content, &rp.CreatedAt); err != nil {
			return nil, err
		}
		if uid.Valid {
			v := uint64(uid.Int64)
			rp.UserID = &v
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

// CreateReply adds a reply to an existing topic.
func (r *ForumRepo) CreateReply(ctx context.Context, topicID, userID uint64, content string) (*model.ForumReply, error) {
	if _, err := r.GetTopic(ctx, topicID); err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO forum_replies (topic_id, user_id, content) VALUES (?,?,?)", topicID, userID, content)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	rp := &model.ForumReply{ID: uint64(id), TopicID: topicID, UserID: &userID, Content: content}
	if err := r.db.QueryRowContext(ctx,
		`SELECT r.created_at, COALESCE(p.name, '') FROM forum_replies r
		 LEFT JOIN profiles p ON p.id = r.user_id WHERE r.id = ?`, rp.ID).Scan(&rp.CreatedAt, &rp.AuthorName); err != nil {
		return nil, err
	}
	return rp, nil
}
