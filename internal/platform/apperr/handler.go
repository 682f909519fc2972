package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// HTTPErrorHandler renders domain errors and echo.HTTPErrors as JSON. Errors
// of unknown kind are logged and reported as 500 without leaking internals.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := errorBody{Code: "INTERNAL_ERROR", Message: "internal server error"}

		var appErr *Error
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
			status = HTTPStatus(appErr)
			body = errorBody{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
		case errors.As(err, &httpErr):
			status = httpErr.Code
			body = errorBody{Code: http.StatusText(status), Message: http.StatusText(status)}
			if msg, ok := httpErr.Message.(string); ok {
				body.Message = msg
			}
		case HTTPStatus(err) != http.StatusInternalServerError:
			status = HTTPStatus(err)
			body = errorBody{Code: http.StatusText(status), Message: err.Error()}
		default:
			logger.Error().Err(err).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}
