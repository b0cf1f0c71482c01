package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"apps-script-proxy/internal/model"
	"apps-script-proxy/internal/service"
)

type recordedRequest struct {
	body string
	auth []string
}

// fakeDestination records what the relay sent and answers with a fixed reply.
type fakeDestination struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
}

func (d *fakeDestination) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	d.mu.Lock()
	d.requests = append(d.requests, recordedRequest{body: string(b), auth: r.Header.Values("Authorization")})
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.status)
	_, _ = w.Write([]byte(d.body))
}

func (d *fakeDestination) received() []recordedRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedRequest(nil), d.requests...)
}

func postRelay(e *echo.Echo, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, RelayPath, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorPayload {
	t.Helper()
	var p model.ErrorPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return p
}

func TestRelay_PassesThroughSuccess(t *testing.T) {
	dest := &fakeDestination{status: http.StatusOK, body: `{"rows":[["a",1],["b",2]]}`}
	srv := httptest.NewServer(dest)
	defer srv.Close()

	e := newTestEcho(testConfig(srv.URL))
	rec := postRelay(e, `{"action":"read","sheet":"Orders"}`, http.Header{"Authorization": {"Bearer tok-1"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := rec.Body.String(); got != `{"rows":[["a",1],["b",2]]}` {
		t.Errorf("body = %s, want destination body unchanged", got)
	}

	reqs := dest.received()
	if len(reqs) != 1 {
		t.Fatalf("destination requests = %d, want 1", len(reqs))
	}
	if reqs[0].body != `{"action":"read","sheet":"Orders"}` {
		t.Errorf("forwarded body = %q", reqs[0].body)
	}
	if len(reqs[0].auth) != 1 || reqs[0].auth[0] != "Bearer tok-1" {
		t.Errorf("forwarded Authorization = %q, want [Bearer tok-1]", reqs[0].auth)
	}
}

func TestRelay_EmptyBodyForwardsEmptyObject(t *testing.T) {
	dest := &fakeDestination{status: http.StatusOK, body: `{}`}
	srv := httptest.NewServer(dest)
	defer srv.Close()

	e := newTestEcho(testConfig(srv.URL))
	rec := postRelay(e, "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	reqs := dest.received()
	if len(reqs) != 1 || reqs[0].body != `{}` {
		t.Fatalf("destination requests = %+v, want one with body {}", reqs)
	}
	if len(reqs[0].auth) != 0 {
		t.Errorf("forwarded Authorization = %q, want none", reqs[0].auth)
	}
}

func TestRelay_DestinationErrorStatus(t *testing.T) {
	dest := &fakeDestination{status: http.StatusForbidden, body: `{"error":"denied"}`}
	srv := httptest.NewServer(dest)
	defer srv.Close()

	e := newTestEcho(testConfig(srv.URL))
	rec := postRelay(e, `{"action":"delete"}`, nil)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	p := decodeError(t, rec)
	if p.Success {
		t.Error("success = true, want false")
	}
	if want := service.MsgDestinationError + `{"error":"denied"}`; p.Message != want {
		t.Errorf("message = %q, want %q", p.Message, want)
	}
	if p.StatusCode != http.StatusForbidden {
		t.Errorf("statusCode = %d, want %d", p.StatusCode, http.StatusForbidden)
	}
}

func TestRelay_DestinationNotConfigured(t *testing.T) {
	e := newTestEcho(testConfig(""))
	rec := postRelay(e, `{"action":"read"}`, nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	want := `{"success":false,"message":"Server configuration error: destination URL missing."}`
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestRelay_InvalidJSONRejected(t *testing.T) {
	dest := &fakeDestination{status: http.StatusOK, body: `{}`}
	srv := httptest.NewServer(dest)
	defer srv.Close()

	e := newTestEcho(testConfig(srv.URL))
	rec := postRelay(e, `{"action":`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	p := decodeError(t, rec)
	if p.Message != msgInvalidBody {
		t.Errorf("message = %q, want %q", p.Message, msgInvalidBody)
	}
	if n := len(dest.received()); n != 0 {
		t.Errorf("destination requests = %d, want 0", n)
	}
}

func TestRelay_NoContentFromDestination(t *testing.T) {
	dest := &fakeDestination{status: http.StatusNoContent}
	srv := httptest.NewServer(dest)
	defer srv.Close()

	e := newTestEcho(testConfig(srv.URL))
	rec := postRelay(e, `{}`, nil)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestRelay_UnreachableDestination(t *testing.T) {
	e := newTestEcho(testConfig("http://127.0.0.1:1/macros/s/abc/exec"))
	rec := postRelay(e, `{}`, nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	p := decodeError(t, rec)
	if p.Message != service.MsgNoResponse {
		t.Errorf("message = %q, want %q", p.Message, service.MsgNoResponse)
	}
	if body := rec.Body.String(); strings.Contains(body, "127.0.0.1:1") || strings.Contains(body, "/macros/s/abc/exec") {
		t.Errorf("body %s leaks the destination URL", body)
	}
}

func TestRedactHeaders(t *testing.T) {
	h := http.Header{
		"Authorization": {"Bearer secret"},
		"Cookie":        {"sid=1"},
		"Content-Type":  {"application/json"},
	}
	got := redactHeaders(h)

	if got["Authorization"] != "[REDACTED]" {
		t.Errorf("Authorization = %q, want redacted", got["Authorization"])
	}
	if got["Cookie"] != "[REDACTED]" {
		t.Errorf("Cookie = %q, want redacted", got["Cookie"])
	}
	if got["Content-Type"] != "application/json" {
		t.Errorf("Content-Type = %q, want kept", got["Content-Type"])
	}
	if h.Get("Authorization") != "Bearer secret" {
		t.Error("redactHeaders modified the request headers")
	}
}

func TestBodyAllowed(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, true},
		{http.StatusCreated, true},
		{http.StatusNoContent, false},
		{http.StatusNotModified, false},
		{http.StatusContinue, false},
		{http.StatusForbidden, true},
	}
	for _, tt := range tests {
		if got := bodyAllowed(tt.status); got != tt.want {
			t.Errorf("bodyAllowed(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
