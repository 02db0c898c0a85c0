package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cinedb/cinedb/internal/feed"
	"github.com/cinedb/cinedb/internal/middleware"
	"github.com/cinedb/cinedb/internal/model"
	"github.com/cinedb/cinedb/internal/repository"
	"github.com/cinedb/cinedb/internal/utils"
)

type fakeForum struct {
	cats    []model.ForumCategory
	topics  []model.ForumTopic
	replies []model.ForumReply
}

func (f *fakeForum) ListCategories(context.Context) ([]model.ForumCategory, error) {
	return f.cats, nil
}

func (f *fakeForum) CreateCategory(_ context.Context, c *model.ForumCategory) error {
	for _, x := range f.cats {
		if x.Name == c.Name {
			return repository.ErrConflict
		}
	}
	c.ID = uint64(len(f.cats) + 1)
	f.cats = append(f.cats, *c)
	return nil
}

func (f *fakeForum) ListTopics(_ context.Context, categoryID uint64) ([]model.ForumTopic, error) {
	out := []model.ForumTopic{}
	for _, t := range f.topics {
		if t.CategoryID == categoryID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeForum) GetTopic(_ context.Context, id uint64) (*model.ForumTopic, error) {
	for _, t := range f.topics {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeForum) CreateTopic(_ context.Context, categoryID, userID uint64, title, content string) (*model.ForumTopic, error) {
	found := false
	for _, c := range f.cats {
		found = found || c.ID == categoryID
	}
	if !found {
		return nil, repository.ErrNotFound
	}
	uid := userID
	t := model.ForumTopic{ID: uint64(len(f.topics) + 1), CategoryID: categoryID, UserID: &uid,
		Title: title, Content: content, CreatedAt: time.Now().UTC()}
	t.LastActivity = t.CreatedAt
	f.topics = append(f.topics, t)
	return &t, nil
}

func (f *fakeForum) ListReplies(_ context.Context, topicID uint64) ([]model.ForumReply, error) {
	out := []model.ForumReply{}
	for _, r := range f.replies {
		if r.TopicID == topicID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeForum) CreateReply(ctx context.Context, topicID, userID uint64, content string) (*model.ForumReply, error) {
	t, err := f.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	uid := userID
	r := model.ForumReply{ID: uint64(len(f.replies) + 1), TopicID: t.ID, UserID: &uid, Content: content}
	f.replies = append(f.replies, r)
	for i := range f.topics {
		if f.topics[i].ID == topicID {
			f.topics[i].ReplyCount++
		}
	}
	return &r, nil
}

func TestForumFlow(t *testing.T) {
	pub := &recordingPublisher{}
	h := &ForumHandler{Forum: &fakeForum{}, Changes: Changes{Publisher: pub}, Log: quietLog()}
	e := echo.New()
	auth := middleware.JWTAuth(secret)
	e.GET("/v1/forum/categories", h.Categories)
	e.POST("/v1/forum/categories", h.CreateCategory, auth, middleware.RequireAdmin(adminEmail))
	e.GET("/v1/forum/categories/:id/topics", h.Topics)
	e.POST("/v1/forum/categories/:id/topics", h.CreateTopic, auth)
	e.GET("/v1/forum/topics/:id", h.Topic)
	e.POST("/v1/forum/topics/:id/replies", h.CreateReply, auth)

	user := bearer(t, utils.Claims{UserID: 51, Email: "jo@x.io"})
	admin := bearer(t, utils.Claims{UserID: 52, Email: "boss@x.io", Role: model.UserTypeAdmin})

	if rec := do(e, http.MethodPost, "/v1/forum/categories", `{"name":"General"}`, user); rec.Code != http.StatusForbidden {
		t.Errorf("user creates category: %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/v1/forum/categories", `{"name":"General"}`, admin); rec.Code != http.StatusCreated {
		t.Fatalf("admin creates category: %d %s", rec.Code, rec.Body)
	}
	if rec := do(e, http.MethodPost, "/v1/forum/categories", `{"name":"General"}`, admin); rec.Code != http.StatusConflict {
		t.Errorf("duplicate category: %d", rec.Code)
	}

	if rec := do(e, http.MethodPost, "/v1/forum/categories/9/topics", `{"title":"Hi","content":"x"}`, user); rec.Code != http.StatusNotFound {
		t.Errorf("topic in missing category: %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/v1/forum/categories/1/topics", `{"title":"","content":"x"}`, user); rec.Code != http.StatusBadRequest {
		t.Errorf("untitled topic: %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/v1/forum/categories/1/topics", `{"title":"Best of 2024","content":"go"}`, user); rec.Code != http.StatusCreated {
		t.Fatalf("create topic: %d %s", rec.Code, rec.Body)
	}
	if rec := do(e, http.MethodPost, "/v1/forum/topics/1/replies", `{"content":"Dune"}`, user); rec.Code != http.StatusCreated {
		t.Fatalf("reply: %d %s", rec.Code, rec.Body)
	}
	if c := pub.last(); c.Table != feed.TableForumReplies || c.Type != feed.Insert {
		t.Errorf("published %s %s", c.Table, c.Type)
	}

	var topics struct {
		Data []model.ForumTopic `json:"data"`
	}
	decode(t, do(e, http.MethodGet, "/v1/forum/categories/1/topics", "", ""), &topics)
	if len(topics.Data) != 1 || topics.Data[0].ReplyCount != 1 {
		t.Errorf("topics = %+v", topics.Data)
	}
	var detail struct {
		Topic   model.ForumTopic   `json:"topic"`
		Replies []model.ForumReply `json:"replies"`
	}
	decode(t, do(e, http.MethodGet, "/v1/forum/topics/1", "", ""), &detail)
	if detail.Topic.Title != "Best of 2024" || len(detail.Replies) != 1 {
		t.Errorf("topic detail = %+v", detail)
	}
}
