package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/catalog"
	"github.com/cinedb/cinedb/internal/handler"
	"github.com/cinedb/cinedb/internal/utils"
)

type nopStore struct{ handler.MovieStore }

func TestRegisterAPIGuards(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	view := catalog.NewView()
	view.SetMovies(nil)
	e := echo.New()
	RegisterRoutes(e, map[string]handler.Pinger{})
	RegisterAPI(e, Handlers{
		Auth:     &handler.AuthHandler{Log: log},
		Movies:   &handler.MovieHandler{Movies: nopStore{}, View: view, Log: log},
		Ratings:  &handler.RatingHandler{Log: log},
		Comments: &handler.CommentHandler{Log: log},
		Forum:    &handler.ForumHandler{Log: log},
		Profiles: &handler.ProfileHandler{Log: log},
	}, Options{JWTSecret: "router-secret", AdminEmail: "admin@x.io"})

	tok, err := utils.NewAccessToken("router-secret", utils.Claims{UserID: 3, Email: "u@x.io", Role: "user", DeviceID: "d"}, 5)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		method, path, auth string
		want               int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/v1/movies", "", http.StatusOK},
		{http.MethodPost, "/v1/movies", "", http.StatusUnauthorized},
		{http.MethodGet, "/v1/session", "", http.StatusUnauthorized},
		{http.MethodGet, "/v1/me/profile", "", http.StatusUnauthorized},
		{http.MethodDelete, "/v1/movies/1", "Bearer " + tok.Token, http.StatusForbidden},
		{http.MethodPut, "/v1/admin/profiles/1/role", "Bearer " + tok.Token, http.StatusForbidden},
		{http.MethodPost, "/v1/forum/categories", "Bearer " + tok.Token, http.StatusForbidden},
		{http.MethodGet, "/v1/nothing-here", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.auth != "" {
			req.Header.Set(echo.HeaderAuthorization, tc.auth)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}
}
