package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"apps-script-proxy/internal/model"
	"apps-script-proxy/internal/service"
)

const msgInvalidBody = "Invalid JSON request body."

// sensitiveHeaders are redacted before inbound headers are logged.
var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Cookie":              true,
	"Proxy-Authorization": true,
}

// RelayHandler serves the relay route.
type RelayHandler struct {
	forwarder *service.Forwarder
	logger    *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(f *service.Forwarder, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		forwarder: f,
		logger:    logger.With("component", "relay_handler"),
	}
}

// Handle reads the JSON body, relays it and writes the normalized response.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		// BodyLimit reports an oversize body as an *echo.HTTPError.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request body").SetInternal(err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		body = nil
	} else if !json.Valid(body) {
		h.logger.Warn("rejecting non-JSON request body", "bytes", len(body))
		return c.JSON(http.StatusBadRequest, model.ErrorPayload{
			Success: false,
			Message: msgInvalidBody,
			Details: detailString("request body is not valid JSON"),
		})
	}

	h.logger.Debug("relay request",
		"headers", redactHeaders(req.Header),
		"bytes", len(body),
	)

	resp := h.forwarder.Forward(req.Context(), &model.InboundRequest{
		Header: req.Header,
		Body:   body,
	})

	if !bodyAllowed(resp.StatusCode) {
		return c.NoContent(resp.StatusCode)
	}
	return c.JSONBlob(resp.StatusCode, resp.Payload)
}

// bodyAllowed reports whether a response with the given status may carry a body.
func bodyAllowed(status int) bool {
	return status >= http.StatusOK && status != http.StatusNoContent && status != http.StatusNotModified
}

// redactHeaders returns a copy of h safe for logging.
func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, vals := range h {
		if sensitiveHeaders[http.CanonicalHeaderKey(key)] {
			out[key] = "[REDACTED]"
			continue
		}
		if len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	return out
}
