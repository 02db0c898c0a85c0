package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/catalog"
	"github.com/cinedb/cinedb/internal/feed"
	"github.com/cinedb/cinedb/internal/middleware"
	"github.com/cinedb/cinedb/internal/model"
	"github.com/cinedb/cinedb/internal/repository"
)

// MovieStore is the movie persistence the handlers need.
type MovieStore interface {
	List(ctx context.Context) ([]model.Movie, error)
	GetByID(ctx context.Context, id uint64) (*model.Movie, error)
	Create(ctx context.Context, m *model.Movie) error
	Update(ctx context.Context, m *model.Movie) error
	Delete(ctx context.Context, id uint64) (*model.Movie, error)
}

// MovieHandler serves the catalog.  Searches run against an in-memory
// catalog.View loaded from the database on first use and kept current by
// local writes and the change feed.
type MovieHandler struct {
	Movies     MovieStore
	View       *catalog.View
	Recent     repository.RecentViews
	Changes    Changes
	AdminEmail string
	Log        logrus.FieldLogger

	loadMu sync.Mutex
}

type movieReq struct {
	Title       string   `json:"title" validate:"required,max=255"`
	ReleaseDate string   `json:"release_date" validate:"omitempty,date"`
	Duration    int      `json:"duration" validate:"min=0,max=1000"`
	Genre       string   `json:"genre" validate:"max=100"`
	Director    string   `json:"director" validate:"max=255"`
	Synopsis    string   `json:"synopsis"`
	PosterURL   *string  `json:"poster_url" validate:"omitempty,url"`
	TrailerURL  *string  `json:"trailer_url" validate:"omitempty,url"`
	IMDBRating  *float64 `json:"imdb_rating" validate:"omitempty,min=0,max=10"`
	Language    *string  `json:"language" validate:"omitempty,max=50"`
	Rating      *string  `json:"rating" validate:"omitempty,max=20"`
}

func (r movieReq) apply(m *model.Movie) {
	m.Title = strings.TrimSpace(r.Title)
	m.ReleaseDate = r.ReleaseDate
	m.Duration = r.Duration
	m.Genre = strings.TrimSpace(r.Genre)
	m.Director = strings.TrimSpace(r.Director)
	m.Synopsis = r.Synopsis
	m.PosterURL = r.PosterURL
	m.TrailerURL = r.TrailerURL
	m.IMDBRating = r.IMDBRating
	m.Language = r.Language
	m.Rating = r.Rating
}

type listQuery struct {
	Q string `query:"q"`
	catalog.Filters
}

// ensureLoaded fills the view from the database once.
func (h *MovieHandler) ensureLoaded(ctx context.Context) error {
	if h.View.Loaded() {
		return nil
	}
	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	if h.View.Loaded() {
		return nil
	}
	return h.sync(ctx)
}

// Reload re-reads the catalog from the database.  The feed consumer calls
// it after every (re)connect.
func (h *MovieHandler) Reload(ctx context.Context) error {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	return h.sync(ctx)
}

// sync must be called with loadMu held.
func (h *MovieHandler) sync(ctx context.Context) error {
	h.View.BeginSync()
	movies, err := h.Movies.List(ctx)
	if err != nil {
		h.View.AbortSync()
		return err
	}
	h.View.FinishSync(movies)
	return nil
}

// List searches the catalog: q matches title, director or genre, the
// facet parameters match exactly.  Facets are derived from the whole
// catalog, not the filtered result.
func (h *MovieHandler) List(c echo.Context) error {
	var q listQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return badRequest(c, "invalid query")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	if err := h.ensureLoaded(ctx); err != nil {
		return fail(c, h.Log, err)
	}
	data, facets := h.View.Query(q.Q, q.Filters)
	return c.JSON(http.StatusOK, echo.Map{"data": data, "facets": facets, "total": len(data)})
}

// Get returns one movie and, for signed-in callers, records the view.
func (h *MovieHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	m, err := h.Movies.GetByID(ctx, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if uid, ok := middleware.UserID(c); ok && h.Recent != nil {
		if err := h.Recent.Push(ctx, uid, id); err != nil {
			h.Log.WithError(err).Warn("record recent view failed")
		}
	}
	return c.JSON(http.StatusOK, m)
}

// Create adds a movie registered by the caller.
func (h *MovieHandler) Create(c echo.Context) error {
	var req movieReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	uid, _ := middleware.UserID(c)
	m := model.Movie{RegisteredBy: &uid}
	req.apply(&m)

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	if err := h.Movies.Create(ctx, &m); err != nil {
		return fail(c, h.Log, err)
	}
	h.View.Upsert(m)
	h.Changes.emit(ctx, feed.TableMovies, feed.Insert, m, nil)
	return c.JSON(http.StatusCreated, m)
}

// Update edits a movie.  Only admins and the user who registered it may.
func (h *MovieHandler) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req movieReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	old, err := h.Movies.GetByID(ctx, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	uid, _ := middleware.UserID(c)
	owner := old.RegisteredBy != nil && *old.RegisteredBy == uid
	if !owner && !middleware.IsAdmin(c, h.AdminEmail) {
		return fail(c, h.Log, repository.ErrForbidden)
	}
	m := *old
	req.apply(&m)
	if err := h.Movies.Update(ctx, &m); err != nil {
		return fail(c, h.Log, err)
	}
	h.View.Upsert(m)
	h.Changes.emit(ctx, feed.TableMovies, feed.Update, m, old)
	return c.JSON(http.StatusOK, m)
}

// Delete removes a movie with its ratings and comments, and drops it from
// every recently viewed list.  Admin only.
func (h *MovieHandler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	m, err := h.Movies.Delete(ctx, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	h.View.Remove(id)
	if h.Recent != nil {
		if err := h.Recent.RemoveMovie(ctx, id); err != nil {
			h.Log.WithError(err).WithField("movie_id", id).Warn("prune recent views failed")
		}
	}
	h.Changes.emit(ctx, feed.TableMovies, feed.Delete, m, nil)
	return c.NoContent(http.StatusNoContent)
}

// RecentlyViewed lists the caller's recently viewed movies, newest first.
// Movies deleted since are skipped.
func (h *MovieHandler) RecentlyViewed(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	if h.Recent == nil {
		return c.JSON(http.StatusOK, echo.Map{"data": []model.Movie{}})
	}
	ids, err := h.Recent.List(ctx, uid)
	if err != nil {
		return fail(c, h.Log, err)
	}
	out := make([]model.Movie, 0, len(ids))
	for _, id := range ids {
		m, err := h.Movies.GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return fail(c, h.Log, err)
		}
		out = append(out, *m)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": out})
}
