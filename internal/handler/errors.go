package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"apps-script-proxy/internal/model"
)

// HTTPErrorHandler renders errors that escape handlers and middleware (unknown
// routes, oversize bodies, recovered panics) in the same shape as relay failures.
func HTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if s, ok := he.Message.(string); ok {
				msg = s
			} else {
				msg = http.StatusText(code)
			}
		}

		if code >= http.StatusInternalServerError {
			logger.Error("request failed",
				"err", err,
				"path", c.Request().URL.Path,
				"status", code,
			)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, model.ErrorPayload{Success: false, Message: msg})
		}
		if werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}

// detailString encodes s as a JSON string for ErrorPayload.Details.
func detailString(s string) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", s))
	}
	return b
}
