package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/cinedb/cinedb/internal/model"
)

// ProfileRepo reads and writes the `profiles` table.
type ProfileRepo struct{ db *sql.DB }

func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{db: db} }

const profileSelect = `SELECT id, name, email, phone, city, country,
	DATE_FORMAT(birth_date, '%Y-%m-%d'), user_type, avatar_url, created_at, updated_at
	FROM profiles`

// GetByID returns the profile of an identity or ErrNotFound.
func (r *ProfileRepo) GetByID(ctx context.Context, id uint64) (*model.Profile, error) {
	var (
		p     model.Profile
		birth sql.NullString
	)
	err := r.db.QueryRowContext(ctx, profileSelect+" WHERE id = ?", id).Scan(
		&p.ID, &p.Name, &p.Email, &p.Phone, &p.City, &p.Country,
		&birth, &p.UserType, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.BirthDate = birth.String
	return &p, nil
}

// Ensure creates the profile row when it does not exist yet.  Existing
// rows are left untouched, so concurrent callers are harmless.
func (r *ProfileRepo) Ensure(ctx context.Context, id uint64, name, email string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT IGNORE INTO profiles (id, name, email) VALUES (?,?,?)",
		id, strings.TrimSpace(name), strings.ToLower(strings.TrimSpace(email)))
	return err
}

// Update writes the user-editable fields.  Role and avatar have their own
// methods.
func (r *ProfileRepo) Update(ctx context.Context, p *model.Profile) error {
	var birth any
	if p.BirthDate != "" {
		birth = p.BirthDate
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET name = ?, phone = ?, city = ?, country = ?, birth_date = ?
		 WHERE id = ?`,
		p.Name, p.Phone, p.City, p.Country, birth, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// MySQL reports 0 for unchanged rows; distinguish from missing.
		if _, err := r.GetByID(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// SetUserType changes the role of a profile.
func (r *ProfileRepo) SetUserType(ctx context.Context, id uint64, userType string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE profiles SET user_type = ? WHERE id = ?", userType, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// SetAvatar stores the public URL of the uploaded avatar.
func (r *ProfileRepo) SetAvatar(ctx context.Context, id uint64, url string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE profiles SET avatar_url = ? WHERE id = ?", url, id)
	return err
}

// EmailsByName returns the emails of every profile whose name equals
// name, compared case-insensitively.  At most two are returned; callers
// only need to know whether the match is unique.
func (r *ProfileRepo) EmailsByName(ctx context.Context, name string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT email FROM profiles WHERE LOWER(name) = ? LIMIT 2",
		strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
