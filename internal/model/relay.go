// Package model defines the request-scoped types that flow through the relay.
package model

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// InboundRequest is a client call to be relayed to the destination.
// Header lookups are case-insensitive through http.Header.
type InboundRequest struct {
	Header http.Header
	Body   json.RawMessage
}

// OutboundRequest is the request sent to the destination. It is built once
// from an InboundRequest and the configured destination URL.
type OutboundRequest struct {
	DestinationURL string
	Header         http.Header
	Body           json.RawMessage
}

// DownstreamResult is the outcome of one outbound exchange. It is always one
// of Completed, TransportFailure or LocalFailure.
type DownstreamResult interface {
	downstreamResult()
}

// Completed is an exchange that produced a response, whatever its status code.
type Completed struct {
	Status int
	Body   json.RawMessage
}

// TransportFailure is an exchange that could not complete. Response is set
// when a status line was received before the failure.
type TransportFailure struct {
	Err      error
	Response *Completed
}

// LocalFailure is an error raised outside the exchange itself.
type LocalFailure struct {
	Err error
}

func (*Completed) downstreamResult()        {}
func (*TransportFailure) downstreamResult() {}
func (*LocalFailure) downstreamResult()     {}

// OutboundResponse is written back to the original caller.
type OutboundResponse struct {
	StatusCode int
	Payload    json.RawMessage
}

// ErrorPayload is the uniform body returned for every failure.
type ErrorPayload struct {
	Success         bool            `json:"success"`
	Message         string          `json:"message"`
	Details         json.RawMessage `json:"details,omitempty"`
	StatusCode      int             `json:"statusCode,omitempty"`
	DestinationBody json.RawMessage `json:"destinationBody,omitempty"`
}

// JSONValue returns b unchanged when it is valid JSON and otherwise encodes it
// as a JSON string. An empty body becomes "".
func JSONValue(b []byte) json.RawMessage {
	if len(b) > 0 && json.Valid(b) {
		return json.RawMessage(b)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(string(b))
	return json.RawMessage(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}
