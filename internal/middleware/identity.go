package middleware

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// DeviceHeader carries the client agent id.  One browser keeps one id
// for its lifetime; the auth endpoints key session state by it.
const DeviceHeader = "X-Device-ID"

// Context keys set by the auth and device middlewares.
const (
	ctxUserID   = "user_id"
	ctxRole     = "role"
	ctxEmail    = "email"
	ctxDeviceID = "device_id"
)

// Device reads X-Device-ID, generating one when the client sent none, and
// echoes it on the response so the client can keep it.
func Device() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := strings.TrimSpace(c.Request().Header.Get(DeviceHeader))
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			c.Set(ctxDeviceID, id)
			c.Response().Header().Set(DeviceHeader, id)
			return next(c)
		}
	}
}

// UserID returns the authenticated user, if any.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// Role returns the role claim of the authenticated user.
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// Email returns the email claim of the authenticated user.
func Email(c echo.Context) string {
	e, _ := c.Get(ctxEmail).(string)
	return e
}

// DeviceID returns the device the access token was issued to, or the one
// set by Device for anonymous requests.
func DeviceID(c echo.Context) string {
	d, _ := c.Get(ctxDeviceID).(string)
	return d
}

// subject is the rate limit identity of the caller: the user id, or
// "anon".
func subject(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
