package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/leadpilot/internal/api/auth"
	"github.com/leadpilot/internal/apperr"
)

// ErrorBody is the wire shape of every error response
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError writes err with its stable code and a message in the caller's language
func respondError(c echo.Context, err error) error {
	status := apperr.HTTPStatus(err)
	code := apperr.CodeOf(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Str("code", code).Msg("request failed")
	}
	return c.JSON(status, ErrorBody{Error: ErrorDetail{Code: code, Message: apperr.Message(code, auth.Lang(c))}})
}

// codeForStatus maps framework errors (routing, auth, body limit) onto the taxonomy
func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.ErrUnauthorized.Code
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return apperr.ErrNotFound.Code
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return apperr.ErrInvalid.Code
	case http.StatusConflict:
		return apperr.ErrConflict.Code
	}
	return apperr.ErrInternal.Code
}

// errorHandler replaces echo's default so framework errors share the error body
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code := codeForStatus(he.Code)
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(he.Code)
			return
		}
		_ = c.JSON(he.Code, ErrorBody{Error: ErrorDetail{Code: code, Message: apperr.Message(code, auth.Lang(c))}})
		return
	}
	_ = respondError(c, err)
}

// invalid is a shorthand for request validation failures
func invalid(op, format string, args ...any) error {
	return apperr.Invalid("api."+op, format, args...)
}
