package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/cinedb/cinedb/internal/handler"
	"github.com/cinedb/cinedb/internal/middleware"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Auth     *handler.AuthHandler
	Movies   *handler.MovieHandler
	Ratings  *handler.RatingHandler
	Comments *handler.CommentHandler
	Forum    *handler.ForumHandler
	Profiles *handler.ProfileHandler
}

// Options carries the middleware the routes are wrapped in.  Nil
// middlewares are skipped.
type Options struct {
	JWTSecret  string
	AdminEmail string
	// Cache fronts anonymous catalog and forum reads.
	Cache echo.MiddlewareFunc
	// Limit applies to every /v1 route; AuthLimit additionally to
	// register, login and refresh.
	Limit     echo.MiddlewareFunc
	AuthLimit echo.MiddlewareFunc
}

func chain(mws ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mws))
	for _, m := range mws {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// RegisterRoutes registers the liveness and readiness probes.
func RegisterRoutes(e *echo.Echo, ready map[string]handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready))
}

// RegisterAPI registers every /v1 endpoint.  Middleware is attached per
// route rather than per group so unknown paths keep answering 404.
func RegisterAPI(e *echo.Echo, h Handlers, o Options) {
	v1 := e.Group("/v1", chain(o.Limit)...)
	auth := middleware.JWTAuth(o.JWTSecret)
	optional := middleware.OptionalJWT(o.JWTSecret)
	admin := middleware.RequireAdmin(o.AdminEmail)
	cached := chain(o.Cache)

	// ---- Auth and session ----
	open := chain(o.AuthLimit)
	v1.POST("/auth/register", h.Auth.Register, open...)
	v1.POST("/auth/login", h.Auth.Login, open...)
	v1.POST("/auth/refresh", h.Auth.Refresh, open...)
	v1.POST("/auth/logout", h.Auth.Logout, auth)
	v1.PUT("/auth/password", h.Auth.UpdatePassword, auth)
	v1.GET("/session", h.Auth.Session, auth)
	v1.POST("/session/activity", h.Auth.Activity, auth)

	// ---- Catalog ----
	v1.GET("/movies", h.Movies.List, cached...)
	v1.GET("/movies/:id", h.Movies.Get, chain(optional, o.Cache)...)
	v1.POST("/movies", h.Movies.Create, auth)
	v1.PUT("/movies/:id", h.Movies.Update, auth)
	v1.DELETE("/movies/:id", h.Movies.Delete, auth, admin)
	v1.GET("/me/recent", h.Movies.RecentlyViewed, auth)

	// ---- Ratings and comments ----
	v1.GET("/movies/:id/ratings/summary", h.Ratings.Summary, cached...)
	v1.GET("/movies/:id/rating", h.Ratings.Mine, auth)
	v1.PUT("/movies/:id/rating", h.Ratings.Rate, auth)
	v1.GET("/movies/:id/comments", h.Comments.List, cached...)
	v1.POST("/movies/:id/comments", h.Comments.Create, auth)
	v1.DELETE("/movies/:id/comments/:commentID", h.Comments.Delete, auth)

	// ---- Forum ----
	v1.GET("/forum/categories", h.Forum.Categories, cached...)
	v1.POST("/forum/categories", h.Forum.CreateCategory, auth, admin)
	v1.GET("/forum/categories/:id/topics", h.Forum.Topics, cached...)
	v1.POST("/forum/categories/:id/topics", h.Forum.CreateTopic, auth)
	v1.GET("/forum/topics/:id", h.Forum.Topic, cached...)
	v1.POST("/forum/topics/:id/replies", h.Forum.CreateReply, auth)

	// ---- Profiles ----
	v1.GET("/me/profile", h.Profiles.Get, auth)
	v1.PUT("/me/profile", h.Profiles.Update, auth)
	v1.POST("/me/avatar", h.Profiles.UploadAvatar, auth)
	v1.PUT("/admin/profiles/:id/role", h.Profiles.SetRole, auth, admin)
}

// RegisterLive mounts the websocket change feed.  It sits outside the
// rate limited group because a connection is long-lived.
func RegisterLive(e *echo.Echo, h *handler.LiveHandler) {
	e.GET("/v1/live", h.Serve)
}
