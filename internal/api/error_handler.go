package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ougirez/cmregistry/internal/api/controller"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

const (
	rateLimitRetryAfter   = 10
	unavailableRetryAfter = 60
)

type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var fe *constants.ForbiddenError
	if errors.As(err, &fe) && wantsHTML(c) {
		if fe.Redirect != "" {
			_ = c.Redirect(http.StatusFound, fe.Redirect)
			return
		}
		_ = controller.RenderDenied(c, fe.Tier)
		return
	}

	msg := err.Error()
	code := http.StatusInternalServerError
	var (
		ce *constants.CodedError
		he *echo.HTTPError
	)
	switch {
	case errors.As(err, &ce):
		code = ce.Code()
	case errors.As(err, &he):
		code = he.Code
		msg = http.StatusText(code)
	}

	switch code {
	case http.StatusTooManyRequests:
		c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(rateLimitRetryAfter))
	case http.StatusServiceUnavailable:
		c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(unavailableRetryAfter))
	case http.StatusInternalServerError:
		logger.Errorf(c.Request().Context(), "%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
		msg = http.StatusText(code)
	}
	if code == http.StatusServiceUnavailable && !errors.Is(err, constants.ErrMaintenance) {
		logger.Warnf(c.Request().Context(), "%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
		msg = constants.ErrUpstream.Error()
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	if wantsHTML(c) {
		_ = controller.RenderError(c, code, msg)
		return
	}
	_ = c.JSON(code, ErrorResponse{
		Message: msg,
		Code:    code,
	})
}

// wantsHTML is true for browser requests outside /api/.
func wantsHTML(c echo.Context) bool {
	if strings.HasPrefix(c.Request().URL.Path, "/api/") || c.QueryParam("format") == "json" {
		return false
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}
