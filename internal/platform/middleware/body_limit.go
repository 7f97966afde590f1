package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit rejects request bodies larger than limit ("512K", "10M", "1G" or
// a byte count) with 413. Bodies without a Content-Length are capped with
// http.MaxBytesReader.
func BodyLimit(limit string) echo.MiddlewareFunc {
	maxBytes := ParseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > maxBytes {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
					fmt.Sprintf("request body exceeds %d bytes", maxBytes))
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes)
			return next(c)
		}
	}
}

// ParseLimit converts a human readable size to bytes. Invalid values fall
// back to 1 MB.
func ParseLimit(s string) int64 {
	const fallback = 1 << 20
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return fallback
	}
	multiplier := int64(1)
	switch s[len(s)-1] {
	case 'K':
		multiplier = 1 << 10
	case 'M':
		multiplier = 1 << 20
	case 'G':
		multiplier = 1 << 30
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n * multiplier
}
