package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Response is the JSON error body returned to clients.
type Response struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// HTTPErrorHandler renders apperr kinds and echo HTTP errors. Internal errors
// are logged with their cause and answered with a generic message.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		rid, _ := c.Get("request_id").(string)
		status, body := render(err)
		body.RequestID = rid

		if status >= http.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Str("request_id", rid).Msg("write error response")
		}
	}
}

func render(err error) (int, Response) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && he.Code < http.StatusInternalServerError {
			msg = m
		} else if he.Code < http.StatusInternalServerError && he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		name := kindForStatus(he.Code).String()
		if name == KindInternal.String() && he.Code < http.StatusInternalServerError {
			name = strings.ReplaceAll(http.StatusText(he.Code), " ", "")
		}
		return he.Code, Response{Error: name, Message: msg}
	}

	kind := KindOf(err)
	return kind.Status(), Response{Error: kind.String(), Message: MessageOf(err)}
}

func kindForStatus(code int) Kind {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return KindBadRequest
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	default:
		return KindInternal
	}
}
