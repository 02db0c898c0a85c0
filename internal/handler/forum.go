package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/feed"
	"github.com/cinedb/cinedb/internal/middleware"
	"github.com/cinedb/cinedb/internal/model"
)

// ForumStore is the forum persistence the handlers need.
type ForumStore interface {
	ListCategories(ctx context.Context) ([]model.ForumCategory, error)
	CreateCategory(ctx context.Context, c *model.ForumCategory) error
	ListTopics(ctx context.Context, categoryID uint64) ([]model.ForumTopic, error)
	GetTopic(ctx context.Context, id uint64) (*model.ForumTopic, error)
	CreateTopic(ctx context.Context, categoryID, userID uint64, title, content string) (*model.ForumTopic, error)
	ListReplies(ctx context.Context, topicID uint64) ([]model.ForumReply, error)
	CreateReply(ctx context.Context, topicID, userID uint64, content string) (*model.ForumReply, error)
}

type ForumHandler struct {
	Forum   ForumStore
	Changes Changes
	Log     logrus.FieldLogger
}

type categoryReq struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

type topicReq struct {
	Title   string `json:"title" validate:"required,max=255"`
	Content string `json:"content" validate:"required"`
}

type replyReq struct {
	Content string `json:"content" validate:"required"`
}

func (h *ForumHandler) Categories(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	list, err := h.Forum.ListCategories(ctx)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": list})
}

// CreateCategory is admin only; the route applies the check.
func (h *ForumHandler) CreateCategory(c echo.Context) error {
	var req categoryReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	cat := model.ForumCategory{Name: strings.TrimSpace(req.Name), Description: req.Description}
	if err := h.Forum.CreateCategory(ctx, &cat); err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, cat)
}

// Topics lists a category's topics by last activity, with reply counts.
func (h *ForumHandler) Topics(c echo.Context) error {
	categoryID, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	list, err := h.Forum.ListTopics(ctx, categoryID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": list})
}

func (h *ForumHandler) CreateTopic(c echo.Context) error {
	categoryID, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req topicReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	uid, _ := middleware.UserID(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	t, err := h.Forum.CreateTopic(ctx, categoryID, uid, strings.TrimSpace(req.Title), req.Content)
	if err != nil {
		return fail(c, h.Log, err)
	}
	h.Changes.emit(ctx, feed.TableForumTopics, feed.Insert, t, nil)
	return c.JSON(http.StatusCreated, t)
}

// Topic returns a topic with its replies, oldest first.
func (h *ForumHandler) Topic(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	t, err := h.Forum.GetTopic(ctx, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	replies, err := h.Forum.ListReplies(ctx, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"topic": t, "replies": replies})
}

func (h *ForumHandler) CreateReply(c echo.Context) error {
	topicID, err := parseID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req replyReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	uid, _ := middleware.UserID(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	r, err := h.Forum.CreateReply(ctx, topicID, uid, req.Content)
	if err != nil {
		return fail(c, h.Log, err)
	}
	h.Changes.emit(ctx, feed.TableForumReplies, feed.Insert, r, nil)
	return c.JSON(http.StatusCreated, r)
}
