package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/identity"
	"github.com/cinedb/cinedb/internal/middleware"
	"github.com/cinedb/cinedb/internal/model"
	"github.com/cinedb/cinedb/internal/session"
)

// AuthHandler serves sign-up, sign-in, sign-out, token refresh and the
// per-device session state.  Every call goes through the device's
// synchronizer so the state it reports stays in step with the provider.
type AuthHandler struct {
	Sessions *session.Manager
	Log      logrus.FieldLogger
}

func NewAuthHandler(m *session.Manager, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{Sessions: m, Log: log}
}

type registerReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password"`
	Name     string `json:"name" validate:"omitempty,max=100"`
}

type loginReq struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type passwordReq struct {
	Password string `json:"password" validate:"required,password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type authResp struct {
	User     model.User `json:"user"`
	DeviceID string     `json:"device_id"`
	Access   tokenPart  `json:"access"`
	Refresh  tokenPart  `json:"refresh"`
}

func toAuthResp(s *identity.Session) authResp {
	return authResp{
		User:     s.User,
		DeviceID: s.DeviceID,
		Access:   tokenPart{Token: s.AccessToken, Expires: s.AccessExpires},
		Refresh:  tokenPart{Token: s.RefreshToken, Expires: s.RefreshExpires},
	}
}

func (h *AuthHandler) sync(ctx context.Context, c echo.Context) (*session.Synchronizer, error) {
	return h.Sessions.For(ctx, middleware.DeviceID(c))
}

// owned returns the synchronizer of the token's device, refusing with
// identity.ErrNoSession when another user is signed in there.
func (h *AuthHandler) owned(ctx context.Context, c echo.Context) (*session.Synchronizer, uint64, error) {
	uid, ok := middleware.UserID(c)
	if !ok {
		return nil, 0, identity.ErrNoSession
	}
	s, err := h.sync(ctx, c)
	if err != nil {
		return nil, 0, err
	}
	if st := s.State(); st.Session != nil && st.Session.User.ID != uid {
		return nil, 0, identity.ErrNoSession
	}
	return s, uid, nil
}

// Register creates an account and signs it in on the calling device.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	s, err := h.sync(ctx, c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var meta map[string]string
	if name := strings.TrimSpace(req.Name); name != "" {
		meta = map[string]string{"name": name}
	}
	sess, err := s.SignUp(ctx, req.Email, req.Password, meta)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toAuthResp(sess))
}

// Login accepts an email or a profile name as identifier.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	s, err := h.sync(ctx, c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	sess, err := s.SignIn(ctx, req.Identifier, req.Password, req.RememberMe)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toAuthResp(sess))
}

// Refresh rotates the refresh token of the calling device.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	s, err := h.sync(ctx, c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	sess, err := s.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toAuthResp(sess))
}

// Logout ends the session of the device the access token belongs to.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	deviceID := middleware.DeviceID(c)
	s, _, err := h.owned(ctx, c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if err := s.SignOut(ctx); err != nil {
		return fail(c, h.Log, err)
	}
	h.Sessions.Forget(deviceID)
	return c.NoContent(http.StatusNoContent)
}

// UpdatePassword changes the caller's password.
func (h *AuthHandler) UpdatePassword(c echo.Context) error {
	var req passwordReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	s, uid, err := h.owned(ctx, c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if err := s.UpdatePassword(ctx, uid, req.Password); err != nil {
		return fail(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
