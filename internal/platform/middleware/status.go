package middleware

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/curafile/curafile/internal/platform/apperr"
)

func statusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return apperr.KindOf(err).Status()
}
