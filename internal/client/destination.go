// Package client provides the outbound HTTP client for the destination.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"apps-script-proxy/internal/config"
	"apps-script-proxy/internal/metrics"
	"apps-script-proxy/internal/model"
)

// ErrResponseTooLarge is carried by a TransportFailure when the destination
// body exceeds the configured cap.
var ErrResponseTooLarge = errors.New("destination response too large")

const userAgent = "apps-script-proxy/1.0"

// DestinationClient performs the single outbound exchange with the destination.
type DestinationClient struct {
	httpClient       *http.Client
	logger           *slog.Logger
	metrics          *metrics.Metrics
	maxResponseBytes int64
}

// NewDestinationClient creates a DestinationClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewDestinationClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *DestinationClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &DestinationClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:           logger.With("component", "destination_client"),
		metrics:          m,
		maxResponseBytes: cfg.Upstream.MaxResponseBytes,
	}
}

// Exchange POSTs the request to its destination and classifies the outcome.
// Every status code the destination returns is a Completed result; only a
// failure to complete the exchange is a TransportFailure.
func (c *DestinationClient) Exchange(ctx context.Context, out *model.OutboundRequest) model.DownstreamResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, out.DestinationURL, bytes.NewReader(out.Body))
	if err != nil {
		return &model.LocalFailure{Err: fmt.Errorf("build destination request: %w", err)}
	}
	for key, vals := range out.Header {
		req.Header[key] = vals
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(start, "")
		return &model.TransportFailure{Err: fmt.Errorf("destination request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := c.readBody(resp.Body)
	c.observe(start, strconv.Itoa(resp.StatusCode))

	c.logger.Debug("destination responded",
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if readErr != nil {
		partial := &model.Completed{Status: resp.StatusCode}
		if len(body) > 0 {
			partial.Body = model.JSONValue(body)
		}
		return &model.TransportFailure{Err: readErr, Response: partial}
	}

	return &model.Completed{Status: resp.StatusCode, Body: model.JSONValue(body)}
}

// readBody reads at most maxResponseBytes. An oversize body is discarded and
// reported as ErrResponseTooLarge.
func (c *DestinationClient) readBody(r io.Reader) ([]byte, error) {
	if c.maxResponseBytes <= 0 {
		b, err := io.ReadAll(r)
		if err != nil {
			return b, fmt.Errorf("read destination response: %w", err)
		}
		return b, nil
	}

	b, err := io.ReadAll(io.LimitReader(r, c.maxResponseBytes+1))
	if err != nil {
		return b, fmt.Errorf("read destination response: %w", err)
	}
	if int64(len(b)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%w: exceeds %s", ErrResponseTooLarge, humanize.IBytes(uint64(c.maxResponseBytes)))
	}
	return b, nil
}

func (c *DestinationClient) observe(start time.Time, status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	if status != "" {
		c.metrics.UpstreamResponses.WithLabelValues(status).Inc()
	}
}
