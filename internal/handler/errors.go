package handler

import (
	"errors"
	"net/http"

	"github.com/abdusco/reftrack/internal"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error  string                `json:"error"`
	Fields []internal.FieldError `json:"fields,omitempty"`
}

// ErrorHandler maps domain errors to HTTP responses.
func ErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	resp := errorResponse{Error: "internal server error"}

	var httpErr *echo.HTTPError
	var validationErr *internal.ValidationError
	switch {
	case errors.As(err, &validationErr):
		code = http.StatusBadRequest
		resp = errorResponse{Error: "validation failed", Fields: validationErr.Fields}
	case errors.Is(err, internal.ErrReferralNotFound), errors.Is(err, internal.ErrClickNotFound):
		code = http.StatusNotFound
		resp.Error = err.Error()
	case errors.Is(err, internal.ErrSlugExists), errors.Is(err, internal.ErrConflict), errors.Is(err, internal.ErrAlreadyConverted):
		code = http.StatusConflict
		resp.Error = err.Error()
	case errors.Is(err, internal.ErrInvalidConversion):
		code = http.StatusBadRequest
		resp.Error = err.Error()
	case errors.Is(err, internal.ErrUnauthorized):
		code = http.StatusUnauthorized
		resp.Error = err.Error()
	case errors.Is(err, internal.ErrForbidden):
		code = http.StatusForbidden
		resp.Error = err.Error()
	case errors.As(err, &httpErr):
		code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			resp.Error = msg
		} else {
			resp.Error = http.StatusText(code)
		}
	}

	event := log.Warn()
	if code >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Int("code", code).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Err(err).
		Msg("http error")

	if c.Response().Committed {
		return
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, resp)
}
