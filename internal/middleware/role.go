package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cinedb/cinedb/internal/model"
)

// RequireRole lets through callers whose role claim is one of roles.  It
// must run after JWTAuth.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

// IsAdmin reports whether the caller holds the admin role or is the
// configured sentinel admin email.  An empty adminEmail matches no one.
func IsAdmin(c echo.Context, adminEmail string) bool {
	if Role(c) == model.UserTypeAdmin {
		return true
	}
	return adminEmail != "" && strings.EqualFold(Email(c), adminEmail)
}

// IsModerator reports whether the caller may moderate content.
func IsModerator(c echo.Context, adminEmail string) bool {
	return Role(c) == model.UserTypeModerator || IsAdmin(c, adminEmail)
}

// RequireAdmin lets through admins as defined by IsAdmin.
func RequireAdmin(adminEmail string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !IsAdmin(c, adminEmail) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "admin only"})
			}
			return next(c)
		}
	}
}
