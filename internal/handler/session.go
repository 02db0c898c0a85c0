package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cinedb/cinedb/internal/model"
	"github.com/cinedb/cinedb/internal/session"
)

// sessionResp is the device state without tokens.
type sessionResp struct {
	SignedIn      bool           `json:"signed_in"`
	User          *model.User    `json:"user"`
	Profile       *model.Profile `json:"profile"`
	IsAdmin       bool           `json:"is_admin"`
	IsModerator   bool           `json:"is_moderator"`
	IsLoading     bool           `json:"is_loading"`
	AccessExpires *time.Time     `json:"access_expires,omitempty"`
}

func toSessionResp(st session.State) sessionResp {
	out := sessionResp{
		SignedIn:    st.Session != nil,
		User:        st.User,
		Profile:     st.Profile,
		IsAdmin:     st.IsAdmin,
		IsModerator: st.IsModerator,
		IsLoading:   st.IsLoading,
	}
	if st.Session != nil {
		exp := st.Session.AccessExpires
		out.AccessExpires = &exp
	}
	return out
}

// Session returns the calling device's auth state.
func (h *AuthHandler) Session(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	s, _, err := h.owned(ctx, c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toSessionResp(s.State()))
}

// Activity records user activity so the idle watcher keeps the session.
func (h *AuthHandler) Activity(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	s, _, err := h.owned(ctx, c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if err := s.Touch(ctx); err != nil {
		return fail(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
