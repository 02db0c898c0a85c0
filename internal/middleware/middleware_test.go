package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/config"
	"github.com/cinedb/cinedb/internal/utils"
)

const secret = "mw-secret"

func token(t *testing.T, c utils.Claims) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, c, 5)
	if err != nil {
		t.Fatal(err)
	}
	return tok.Token
}

func serve(e *echo.Echo, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		id, _ := UserID(c)
		return c.JSON(http.StatusOK, echo.Map{"id": id, "role": Role(c), "email": Email(c), "device": DeviceID(c)})
	}, JWTAuth(secret))

	if rec := serve(e, http.MethodGet, "/me", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer junk"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: %d", rec.Code)
	}
	tok := token(t, utils.Claims{UserID: 9, Email: "a@b.co", Role: "moderator", DeviceID: "dev-1"})
	rec := serve(e, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer " + tok})
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: %d %s", rec.Code, rec.Body)
	}
	want := `{"device":"dev-1","email":"a@b.co","id":9,"role":"moderator"}` + "\n"
	if rec.Body.String() != want {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestOptionalJWT(t *testing.T) {
	e := echo.New()
	e.GET("/x", func(c echo.Context) error {
		_, ok := UserID(c)
		return c.JSON(http.StatusOK, echo.Map{"authed": ok})
	}, OptionalJWT(secret))
	if rec := serve(e, http.MethodGet, "/x", map[string]string{"Authorization": "Bearer junk"}); rec.Body.String() != "{\"authed\":false}\n" {
		t.Errorf("bad token body = %s", rec.Body)
	}
	tok := token(t, utils.Claims{UserID: 1})
	if rec := serve(e, http.MethodGet, "/x", map[string]string{"Authorization": "Bearer " + tok}); rec.Body.String() != "{\"authed\":true}\n" {
		t.Errorf("good token body = %s", rec.Body)
	}
}

func TestDevice(t *testing.T) {
	e := echo.New()
	e.Use(Device())
	e.GET("/d", func(c echo.Context) error { return c.String(http.StatusOK, DeviceID(c)) })

	rec := serve(e, http.MethodGet, "/d", map[string]string{DeviceHeader: "browser-1"})
	if rec.Body.String() != "browser-1" || rec.Header().Get(DeviceHeader) != "browser-1" {
		t.Errorf("kept id: body %q header %q", rec.Body, rec.Header().Get(DeviceHeader))
	}
	rec = serve(e, http.MethodGet, "/d", nil)
	if len(rec.Body.String()) != 36 || rec.Header().Get(DeviceHeader) != rec.Body.String() {
		t.Errorf("generated id = %q", rec.Body)
	}
}

func TestRequireAdmin(t *testing.T) {
	e := echo.New()
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	e.DELETE("/m", ok, JWTAuth(secret), RequireAdmin("root@cinedb.test"))
	e.POST("/mod", ok, JWTAuth(secret), RequireRole("moderator", "admin"))

	cases := []struct {
		name   string
		claims utils.Claims
		path   string
		method string
		want   int
	}{
		{"admin role", utils.Claims{UserID: 1, Role: "admin"}, "/m", http.MethodDelete, http.StatusNoContent},
		{"sentinel email", utils.Claims{UserID: 2, Role: "user", Email: "ROOT@cinedb.test"}, "/m", http.MethodDelete, http.StatusNoContent},
		{"plain user", utils.Claims{UserID: 3, Role: "user", Email: "x@y.z"}, "/m", http.MethodDelete, http.StatusForbidden},
		{"moderator on role route", utils.Claims{UserID: 4, Role: "moderator"}, "/mod", http.MethodPost, http.StatusNoContent},
		{"user on role route", utils.Claims{UserID: 5, Role: "user"}, "/mod", http.MethodPost, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(e, tc.method, tc.path, map[string]string{"Authorization": "Bearer " + token(t, tc.claims)})
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func rateCfg() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "test:rl",
	}
}

func testLimiter(t *testing.T, mw echo.MiddlewareFunc) {
	t.Helper()
	e := echo.New()
	e.GET("/r", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, mw)
	for i := 0; i < 2; i++ {
		if rec := serve(e, http.MethodGet, "/r", nil); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := serve(e, http.MethodGet, "/r", nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("third request: %d retry %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestTokenBucketRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	testLimiter(t, NewTokenBucket(rateCfg(), rdb))
}

func TestTokenBucketLocalFallback(t *testing.T) {
	testLimiter(t, NewTokenBucket(rateCfg(), nil))
}

func TestTokenBucketDisabled(t *testing.T) {
	cfg := rateCfg()
	cfg.Enabled = false
	e := echo.New()
	e.GET("/r", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewTokenBucket(cfg, nil))
	for i := 0; i < 5; i++ {
		if rec := serve(e, http.MethodGet, "/r", nil); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d limited while disabled", i)
		}
	}
}

func TestRedisCacheAndPurge(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	cfg := config.CacheConfig{
		Enabled:     true,
		Methods:     map[string]bool{http.MethodGet: true},
		TTL:         time.Minute,
		KeyStrategy: "route_query",
		Prefix:      "test:cache",
	}

	calls := 0
	e := echo.New()
	e.GET("/movies", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"n": calls})
	}, NewRedisCache(cfg, rdb))

	first := serve(e, http.MethodGet, "/movies?q=a", nil)
	second := serve(e, http.MethodGet, "/movies?q=a", nil)
	if first.Header().Get("X-Cache") != "MISS" || second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("X-Cache = %q then %q", first.Header().Get("X-Cache"), second.Header().Get("X-Cache"))
	}
	if second.Body.String() != first.Body.String() || calls != 1 {
		t.Errorf("cached body %q vs %q, calls %d", second.Body, first.Body, calls)
	}
	if serve(e, http.MethodGet, "/movies?q=b", nil); calls != 2 {
		t.Errorf("different query served from cache")
	}
	if serve(e, http.MethodGet, "/movies?q=a", map[string]string{"Authorization": "Bearer x"}); calls != 3 {
		t.Errorf("authenticated request served from cache")
	}

	NewCachePurger(cfg, rdb, logrus.New()).Purge(context.Background())
	if rec := serve(e, http.MethodGet, "/movies?q=a", nil); rec.Header().Get("X-Cache") != "MISS" {
		t.Errorf("after purge X-Cache = %q", rec.Header().Get("X-Cache"))
	}
	var nilPurger *CachePurger
	nilPurger.Purge(context.Background())
}
