package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/feed"
	"github.com/cinedb/cinedb/internal/middleware"
	"github.com/cinedb/cinedb/internal/model"
)

// CommentStore is the comment persistence the handlers need.
type CommentStore interface {
	ListByMovie(ctx context.Context, movieID uint64) ([]model.Comment, error)
	Create(ctx context.Context, movieID, userID uint64, content string) (*model.Comment, error)
	Delete(ctx context.Context, id, callerID uint64, canModerate bool) (*model.Comment, error)
}

// CommentHandler serves movie comments from per-movie caches.  A cache is
// registered before it is filled from the database, updated
// optimistically by this instance's writes and reconciled by Apply with
// every change on the feed, including those that land during the fill.
type CommentHandler struct {
	Comments   CommentStore
	Movies     MovieStore
	Changes    Changes
	AdminEmail string
	Log        logrus.FieldLogger

	mu     sync.Mutex
	caches map[uint64]*commentEntry
}

type commentEntry struct {
	cc    *feed.CommentCache
	ready chan struct{}
	err   error
}

type commentReq struct {
	Content string `json:"content" validate:"required,max=2000"`
}

func (h *CommentHandler) cache(ctx context.Context, movieID uint64) (*feed.CommentCache, error) {
	h.mu.Lock()
	if h.caches == nil {
		h.caches = make(map[uint64]*commentEntry)
	}
	e, ok := h.caches[movieID]
	if !ok {
		e = &commentEntry{cc: feed.NewPendingCommentCache(movieID), ready: make(chan struct{})}
		h.caches[movieID] = e
	}
	h.mu.Unlock()
	if !ok {
		h.fill(ctx, movieID, e)
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.cc, nil
}

func (h *CommentHandler) fill(ctx context.Context, movieID uint64, e *commentEntry) {
	defer close(e.ready)
	list, err := h.Comments.ListByMovie(ctx, movieID)
	if err != nil {
		e.err = err
		h.mu.Lock()
		if h.caches[movieID] == e {
			delete(h.caches, movieID)
		}
		h.mu.Unlock()
		return
	}
	e.cc.Fill(list)
}

// cached returns the movie's cache, pending or filled, or nil.
func (h *CommentHandler) cached(movieID uint64) *feed.CommentCache {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.caches[movieID]; ok {
		return e.cc
	}
	return nil
}

// Reset drops every cache; the next read refills from the database.
func (h *CommentHandler) Reset() {
	h.mu.Lock()
	h.caches = nil
	h.mu.Unlock()
}

// Apply reconciles the caches with a change from the feed.  A deleted
// movie drops its cache.
func (h *CommentHandler) Apply(ch feed.Change) {
	switch ch.Table {
	case feed.TableMovies:
		if ch.Type != feed.Delete {
			return
		}
		var m model.Movie
		if err := ch.Decode(&m); err != nil {
			return
		}
		h.mu.Lock()
		delete(h.caches, m.ID)
		h.mu.Unlock()
	case feed.TableMovieComments:
		var c model.Comment
		if err := ch.Decode(&c); err != nil {
			h.Log.WithError(err).Warn("undecodable comment change")
			return
		}
		if cc := h.cached(c.MovieID); cc != nil {
			_ = cc.Apply(ch)
		}
	}
}

// List returns a movie's comments, newest first.
func (h *CommentHandler) List(c echo.Context) error {
	movieID, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	if _, err := h.Movies.GetByID(ctx, movieID); err != nil {
		return fail(c, h.Log, err)
	}
	cc, err := h.cache(ctx, movieID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": cc.List()})
}

// Create posts a comment as the caller.
func (h *CommentHandler) Create(c echo.Context) error {
	movieID, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req commentReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return badRequest(c, "content is required")
	}
	uid, _ := middleware.UserID(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if _, err := h.Movies.GetByID(ctx, movieID); err != nil {
		return fail(c, h.Log, err)
	}
	cm, err := h.Comments.Create(ctx, movieID, uid, content)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if cc := h.cached(movieID); cc != nil {
		cc.Put(*cm)
	}
	h.Changes.emit(ctx, feed.TableMovieComments, feed.Insert, cm, nil)
	return c.JSON(http.StatusCreated, cm)
}

// Delete removes a comment.  Authors may delete their own; moderators and
// admins any.
func (h *CommentHandler) Delete(c echo.Context) error {
	id, err := parseID(c, "commentID")
	if err != nil {
		return fail(c, h.Log, err)
	}
	uid, _ := middleware.UserID(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	cm, err := h.Comments.Delete(ctx, id, uid, middleware.IsModerator(c, h.AdminEmail))
	if err != nil {
		return fail(c, h.Log, err)
	}
	if cc := h.cached(cm.MovieID); cc != nil {
		cc.Remove(cm.ID)
	}
	h.Changes.emit(ctx, feed.TableMovieComments, feed.Delete, cm, nil)
	return c.NoContent(http.StatusNoContent)
}
