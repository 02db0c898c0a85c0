// Package handler exposes the CineDB HTTP API.  Handlers validate input,
// call the repositories and the session layer, publish row changes to the
// feed and translate errors into JSON responses.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/feed"
	"github.com/cinedb/cinedb/internal/identity"
	"github.com/cinedb/cinedb/internal/repository"
	"github.com/cinedb/cinedb/internal/session"
	"github.com/cinedb/cinedb/internal/validate"
)

const dbTimeout = 5 * time.Second

// Purger drops cached responses after a write.
type Purger interface {
	Purge(ctx context.Context)
}

type noPurge struct{}

func (noPurge) Purge(context.Context) {}

// Changes publishes row changes and keeps the response cache honest.
// Failures are logged and never fail the request.
type Changes struct {
	Publisher feed.Publisher
	Cache     Purger
	Log       logrus.FieldLogger
}

func (ch Changes) emit(ctx context.Context, table, typ string, rec, old any) {
	if ch.Cache != nil {
		ch.Cache.Purge(ctx)
	}
	if ch.Publisher == nil {
		return
	}
	c, err := feed.NewChange(table, typ, rec)
	if err == nil && old != nil {
		c, err = c.WithOld(old)
	}
	if err == nil {
		err = ch.Publisher.Publish(ctx, c)
	}
	if err != nil && ch.Log != nil {
		ch.Log.WithError(err).WithFields(logrus.Fields{"table": table, "type": typ}).Warn("publish change failed")
	}
}

func parseID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// bindValid binds the body into dst and runs its validate tags.
func bindValid(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return badRequest(c, "invalid body")
	}
	if err := validate.Struct(dst); err != nil {
		var ve *validate.Errors
		if errors.As(err, &ve) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": ve.Map()})
		}
		return badRequest(c, err.Error())
	}
	return nil
}

// fail maps domain errors to status codes.  Unknown errors are logged and
// reported as 500 with a generic message.
func fail(c echo.Context, log logrus.FieldLogger, err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return c.JSON(he.Code, echo.Map{"error": he.Message})
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already exists"})
	case errors.Is(err, identity.ErrEmailExists), errors.Is(err, repository.ErrEmailExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": identity.ErrEmailExists.Error()})
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrInvalidRefresh),
		errors.Is(err, identity.ErrNoSession):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	case errors.Is(err, identity.ErrWeakPassword):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": "timeout"})
	}
	if log != nil {
		log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
