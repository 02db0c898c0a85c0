package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/feed"
	"github.com/cinedb/cinedb/internal/middleware"
	"github.com/cinedb/cinedb/internal/model"
)

// RatingStore is the rating persistence the handlers need.
type RatingStore interface {
	Upsert(ctx context.Context, movieID, userID uint64, score int) (*model.Rating, bool, error)
	ForUser(ctx context.Context, movieID, userID uint64) (*model.Rating, error)
	Summary(ctx context.Context, movieID uint64) (model.RatingSummary, error)
}

type RatingHandler struct {
	Ratings RatingStore
	Movies  MovieStore
	Changes Changes
	Log     logrus.FieldLogger
}

type rateReq struct {
	Rating int `json:"rating" validate:"required,min=1,max=5"`
}

// Rate records the caller's 1 to 5 rating.  The first call creates the
// rating (201); later calls update it (200).
func (h *RatingHandler) Rate(c echo.Context) error {
	movieID, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req rateReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	uid, _ := middleware.UserID(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if _, err := h.Movies.GetByID(ctx, movieID); err != nil {
		return fail(c, h.Log, err)
	}
	r, inserted, err := h.Ratings.Upsert(ctx, movieID, uid, req.Rating)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if inserted {
		h.Changes.emit(ctx, feed.TableMovieRatings, feed.Insert, r, nil)
		return c.JSON(http.StatusCreated, r)
	}
	h.Changes.emit(ctx, feed.TableMovieRatings, feed.Update, r, nil)
	return c.JSON(http.StatusOK, r)
}

// Mine returns the caller's rating of a movie, or 404.
func (h *RatingHandler) Mine(c echo.Context) error {
	movieID, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	uid, _ := middleware.UserID(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	r, err := h.Ratings.ForUser(ctx, movieID, uid)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, r)
}

// Summary returns the average rating and the number of ratings.
func (h *RatingHandler) Summary(c echo.Context) error {
	movieID, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	s, err := h.Ratings.Summary(ctx, movieID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, s)
}
