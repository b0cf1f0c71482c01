// Package service implements the core relay logic: building the outbound
// request and normalizing the destination's reply.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"apps-script-proxy/internal/config"
	"apps-script-proxy/internal/metrics"
	"apps-script-proxy/internal/model"
)

// Client-facing messages.
const (
	MsgDestinationMissing = "Server configuration error: destination URL missing."
	MsgDestinationError   = "Destination Error: "
	MsgResponseError      = "internal error forwarding request (response error)"
	MsgNoResponse         = "internal error forwarding request (no response from destination)"
	MsgInternalError      = "internal error"
)

// ErrDestinationMissing is logged when a request arrives with no destination configured.
var ErrDestinationMissing = errors.New("destination URL is not configured")

const (
	headerAuthorization = "Authorization"
	redactedDestination = "[destination]"
)

// Exchanger performs the outbound exchange.
type Exchanger interface {
	Exchange(ctx context.Context, out *model.OutboundRequest) model.DownstreamResult
}

// Forwarder relays inbound requests to the configured destination.
// It holds no mutable state and is safe for concurrent use.
type Forwarder struct {
	client          Exchanger
	destinationURL  string
	exposeErrorBody bool
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

// NewForwarder creates a Forwarder. The metrics parameter is optional.
func NewForwarder(c Exchanger, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Forwarder {
	return &Forwarder{
		client:          c,
		destinationURL:  cfg.Destination.URL,
		exposeErrorBody: cfg.Destination.ExposeErrorBody,
		logger:          logger.With("component", "forwarder"),
		metrics:         m,
	}
}

// Forward relays one inbound request and always returns a response for the caller.
func (f *Forwarder) Forward(ctx context.Context, in *model.InboundRequest) *model.OutboundResponse {
	if f.destinationURL == "" {
		f.logger.Error("cannot forward request", "err", ErrDestinationMissing)
		f.record(metrics.OutcomeConfigError)
		return errorResponse(http.StatusInternalServerError, model.ErrorPayload{
			Message: MsgDestinationMissing,
		})
	}

	out, err := f.buildOutbound(in)
	var res model.DownstreamResult
	if err != nil {
		res = &model.LocalFailure{Err: err}
	} else {
		f.logger.Debug("forwarding request",
			"authorization_forwarded", out.Header.Get(headerAuthorization) != "",
			"bytes", len(out.Body),
		)
		res = f.client.Exchange(ctx, out)
	}

	return f.respond(res)
}

// buildOutbound derives the outbound request. The Authorization header is
// copied verbatim when present and omitted otherwise.
func (f *Forwarder) buildOutbound(in *model.InboundRequest) (*model.OutboundRequest, error) {
	u, err := url.Parse(f.destinationURL)
	if err != nil {
		return nil, fmt.Errorf("parse destination URL: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("destination URL must be an absolute http(s) URL")
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	if auth := in.Header.Values(headerAuthorization); len(auth) > 0 {
		header.Set(headerAuthorization, auth[0])
	}

	body := in.Body
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}

	return &model.OutboundRequest{
		DestinationURL: f.destinationURL,
		Header:         header,
		Body:           body,
	}, nil
}

// respond maps every DownstreamResult variant onto the client-facing response.
func (f *Forwarder) respond(res model.DownstreamResult) *model.OutboundResponse {
	switch r := res.(type) {
	case *model.Completed:
		if r.Status >= 200 && r.Status < 300 {
			f.record(metrics.OutcomeSuccess)
			return &model.OutboundResponse{StatusCode: r.Status, Payload: r.Body}
		}
		f.logger.Warn("destination returned error status", "status", r.Status)
		f.record(metrics.OutcomeDestinationError)
		p := model.ErrorPayload{
			Message:    MsgDestinationError + string(r.Body),
			StatusCode: r.Status,
		}
		if f.exposeErrorBody {
			p.DestinationBody = r.Body
		}
		return errorResponse(r.Status, p)

	case *model.TransportFailure:
		desc := f.describe(r.Err)
		if r.Response == nil {
			f.logger.Error("no response from destination", "err", desc)
			f.record(metrics.OutcomeNoResponse)
			return errorResponse(http.StatusInternalServerError, model.ErrorPayload{
				Message: MsgNoResponse,
				Details: stringValue(desc),
			})
		}
		f.logger.Error("destination response error", "err", desc, "status", r.Response.Status)
		f.record(metrics.OutcomeResponseError)
		status := r.Response.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		details := r.Response.Body
		if len(details) == 0 {
			details = stringValue(desc)
		}
		return errorResponse(status, model.ErrorPayload{
			Message:    MsgResponseError,
			Details:    details,
			StatusCode: r.Response.Status,
		})

	case *model.LocalFailure:
		desc := f.describe(r.Err)
		f.logger.Error("local error forwarding request", "err", desc)
		f.record(metrics.OutcomeLocalError)
		return errorResponse(http.StatusInternalServerError, model.ErrorPayload{
			Message: MsgInternalError,
			Details: stringValue(desc),
		})

	default:
		f.logger.Error("unknown downstream result", "type", fmt.Sprintf("%T", res))
		f.record(metrics.OutcomeLocalError)
		return errorResponse(http.StatusInternalServerError, model.ErrorPayload{
			Message: MsgInternalError,
			Details: stringValue(fmt.Sprintf("unexpected result %T", res)),
		})
	}
}

// describe renders err for the caller without revealing the destination URL.
func (f *Forwarder) describe(err error) string {
	if err == nil {
		return "unknown error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	msg := err.Error()
	if f.destinationURL != "" {
		msg = strings.ReplaceAll(msg, f.destinationURL, redactedDestination)
		if u, perr := url.Parse(f.destinationURL); perr == nil && u.Host != "" {
			msg = strings.ReplaceAll(msg, u.Host, redactedDestination)
		}
	}
	return msg
}

func (f *Forwarder) record(outcome string) {
	if f.metrics != nil {
		f.metrics.ForwardResults.WithLabelValues(outcome).Inc()
	}
}

func errorResponse(status int, p model.ErrorPayload) *model.OutboundResponse {
	p.Success = false
	payload, err := json.Marshal(p)
	if err != nil {
		payload = []byte(`{"success":false,"message":"internal error"}`)
	}
	return &model.OutboundResponse{StatusCode: status, Payload: payload}
}

func stringValue(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
