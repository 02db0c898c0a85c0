package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/feed"
	"github.com/cinedb/cinedb/internal/middleware"
	"github.com/cinedb/cinedb/internal/model"
	"github.com/cinedb/cinedb/internal/repository"
	"github.com/cinedb/cinedb/internal/storage"
	"github.com/cinedb/cinedb/internal/validate"
)

// ProfileStore is the profile persistence the handlers need.
type ProfileStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Profile, error)
	Ensure(ctx context.Context, id uint64, name, email string) error
	Update(ctx context.Context, p *model.Profile) error
	SetUserType(ctx context.Context, id uint64, userType string) error
	SetAvatar(ctx context.Context, id uint64, url string) error
}

// AvatarStore uploads avatar images and removes replaced ones.
type AvatarStore interface {
	Upload(ctx context.Context, userID uint64, filename, contentType string, size int64, body io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}

type ProfileHandler struct {
	Profiles ProfileStore
	Avatars  AvatarStore
	Changes  Changes
	// MinAge is the youngest accepted age for a birth date; zero disables
	// the check.
	MinAge int
	Log    logrus.FieldLogger
	Now    func() time.Time
}

type profileReq struct {
	Name      string `json:"name" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"omitempty,phone"`
	City      string `json:"city" validate:"max=100"`
	Country   string `json:"country" validate:"max=100"`
	BirthDate string `json:"birth_date" validate:"omitempty,date"`
}

type roleReq struct {
	UserType string `json:"user_type" validate:"required,oneof=user moderator admin"`
}

func (h *ProfileHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// load returns the caller's profile, creating it when missing.
func (h *ProfileHandler) load(ctx context.Context, c echo.Context) (*model.Profile, error) {
	uid, _ := middleware.UserID(c)
	p, err := h.Profiles.GetByID(ctx, uid)
	if errors.Is(err, repository.ErrNotFound) {
		if err = h.Profiles.Ensure(ctx, uid, "", middleware.Email(c)); err == nil {
			p, err = h.Profiles.GetByID(ctx, uid)
		}
	}
	return p, err
}

func (h *ProfileHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	p, err := h.load(ctx, c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Update edits the caller's own name, phone, city, country and birth date.
func (h *ProfileHandler) Update(c echo.Context) error {
	var req profileReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if req.BirthDate != "" && h.MinAge > 0 {
		if _, err := validate.Age(req.BirthDate, h.now()); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": echo.Map{"birth_date": err.Error()}})
		}
		if !validate.AdultAt(req.BirthDate, h.now(), h.MinAge) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": echo.Map{"birth_date": "too young"}})
		}
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	p, err := h.load(ctx, c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	old := *p
	p.Name = strings.TrimSpace(req.Name)
	p.Phone = strings.TrimSpace(req.Phone)
	p.City = strings.TrimSpace(req.City)
	p.Country = strings.TrimSpace(req.Country)
	p.BirthDate = req.BirthDate
	if err := h.Profiles.Update(ctx, p); err != nil {
		return fail(c, h.Log, err)
	}
	h.Changes.emit(ctx, feed.TableProfiles, feed.Update, p, old)
	return c.JSON(http.StatusOK, p)
}

// UploadAvatar stores the multipart "avatar" file and points the profile
// at it.  The previous avatar is removed from the bucket.
func (h *ProfileHandler) UploadAvatar(c echo.Context) error {
	fh, err := c.FormFile("avatar")
	if err != nil {
		return badRequest(c, "avatar file is required")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()
	p, err := h.load(ctx, c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "unreadable avatar file")
	}
	defer f.Close()

	url, err := h.Avatars.Upload(ctx, p.ID, fh.Filename, fh.Header.Get("Content-Type"), fh.Size, f)
	switch {
	case errors.Is(err, storage.ErrFileType), errors.Is(err, storage.ErrTooLarge):
		return badRequest(c, err.Error())
	case errors.Is(err, storage.ErrDisabled):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": err.Error()})
	case err != nil:
		return fail(c, h.Log, err)
	}
	if err := h.Profiles.SetAvatar(ctx, p.ID, url); err != nil {
		return fail(c, h.Log, err)
	}
	if p.AvatarURL != "" {
		if err := h.Avatars.Delete(ctx, p.AvatarURL); err != nil {
			h.Log.WithError(err).Warn("remove old avatar failed")
		}
	}
	old := *p
	p.AvatarURL = url
	h.Changes.emit(ctx, feed.TableProfiles, feed.Update, p, old)
	return c.JSON(http.StatusOK, p)
}

// SetRole changes another user's user_type.  Admin only; the route
// applies the check.  The new role reaches the user's access token on its
// next refresh.
func (h *ProfileHandler) SetRole(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req roleReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	if err := h.Profiles.SetUserType(ctx, id, req.UserType); err != nil {
		return fail(c, h.Log, err)
	}
	p, err := h.Profiles.GetByID(ctx, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	h.Changes.emit(ctx, feed.TableProfiles, feed.Update, p, nil)
	return c.JSON(http.StatusOK, p)
}
