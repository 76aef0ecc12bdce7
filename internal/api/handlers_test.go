package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/studiobridge/internal/dispatch"
	"github.com/mattjoyce/studiobridge/internal/events"
	"github.com/mattjoyce/studiobridge/internal/generate"
	"github.com/mattjoyce/studiobridge/internal/history"
	"github.com/mattjoyce/studiobridge/internal/protocol"
)

// mockPrompter implements Prompter for testing
type mockPrompter struct {
	promptFunc func(ctx context.Context, prompt string) (string, error)
	runFunc    func(ctx context.Context, command string) (string, error)
}

func (m *mockPrompter) Prompt(ctx context.Context, prompt string) (string, error) {
	if m.promptFunc == nil {
		return "", errors.New("unexpected Prompt call")
	}
	return m.promptFunc(ctx, prompt)
}

func (m *mockPrompter) Run(ctx context.Context, command string) (string, error) {
	if m.runFunc == nil {
		return "", errors.New("unexpected Run call")
	}
	return m.runFunc(ctx, command)
}

// mockHistory implements HistoryReader for testing
type mockHistory struct {
	recentFunc func(ctx context.Context, limit int) ([]history.Entry, error)
}

func (m *mockHistory) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	return m.recentFunc(ctx, limit)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *dispatch.Dispatcher, *mockPrompter) {
	t.Helper()
	hub := events.NewHub(64)
	d := dispatch.New(dispatch.Config{PollTimeout: 50 * time.Millisecond}, hub, discardLogger())
	t.Cleanup(d.Close)
	p := &mockPrompter{}
	srv := New(Config{MaxBodyBytes: 1 << 20, Version: "test"}, d, p, nil, hub, discardLogger())
	return srv, d, p
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v (body %q)", err, rr.Body.String())
	}
	return resp.Error
}

func TestRequestTimesOutWith202(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := do(t, srv, http.MethodGet, "/request", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rr.Body.String())
	}
}

func TestRequestAndResponseRoundTrip(t *testing.T) {
	srv, d, _ := newTestServer(t)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := d.Execute(context.Background(), protocol.RunCode{Command: "print(1)"})
		done <- result{out, err}
	}()

	var rr *httptest.ResponseRecorder
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr = do(t, srv, http.MethodGet, "/request", "")
		if rr.Code == http.StatusOK || time.Now().After(deadline) {
			break
		}
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var call protocol.ToolCall
	if err := json.Unmarshal(rr.Body.Bytes(), &call); err != nil {
		t.Fatalf("decode tool call: %v", err)
	}
	if rc, ok := call.Args.(protocol.RunCode); !ok || rc.Command != "print(1)" {
		t.Fatalf("unexpected args: %#v", call.Args)
	}

	body := `{"id":"` + call.ID.String() + `","response":"1"}`
	rr = do(t, srv, http.MethodPost, "/response", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var sub SubmitResponse
	if err := json.NewDecoder(rr.Body).Decode(&sub); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if sub.Status != "delivered" {
		t.Fatalf("expected delivered, got %q", sub.Status)
	}

	select {
	case r := <-done:
		if r.err != nil || r.out != "1" {
			t.Fatalf("Execute = %q, %v", r.out, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return")
	}

	// At most once.
	rr = do(t, srv, http.MethodPost, "/response", body)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second submit, got %d", rr.Code)
	}
}

func TestResponseUnknownID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/response", `{"id":"`+uuid.NewString()+`","response":"x"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if msg := decodeError(t, rr); msg != "unknown id" {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestResponseBadBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, body := range []string{`not json`, `{"response":"x"}`, `{"id":"nope","response":"x"}`} {
		rr := do(t, srv, http.MethodPost, "/response", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestResponseBodyTooLarge(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.config.MaxBodyBytes = 64

	body := `{"id":"` + uuid.NewString() + `","response":"` + strings.Repeat("x", 128) + `"}`
	rr := do(t, srv, http.MethodPost, "/response", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRequestAfterCloseIs500(t *testing.T) {
	srv, d, _ := newTestServer(t)
	d.Close()

	rr := do(t, srv, http.MethodGet, "/request", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if msg := decodeError(t, rr); !strings.Contains(msg, "closed") {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestPrompt(t *testing.T) {
	srv, _, p := newTestServer(t)

	var got string
	p.promptFunc = func(_ context.Context, prompt string) (string, error) {
		got = prompt
		return "Gemini 2.5 says:\nhi\n\nStudio output:\n1", nil
	}

	rr := do(t, srv, http.MethodPost, "/prompt", `{"prompt":"make a part"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got != "make a part" {
		t.Fatalf("prompt not forwarded: %q", got)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if !strings.HasSuffix(rr.Body.String(), "Studio output:\n1") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestPromptValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"empty prompt", `{"prompt":"   "}`},
		{"unknown field", `{"prompt":"x","model":"y"}`},
		{"malformed", `{"prompt":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/prompt", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestPromptFailureIs500(t *testing.T) {
	srv, _, p := newTestServer(t)
	p.promptFunc = func(context.Context, string) (string, error) {
		return "", generate.ErrMissingCredential
	}

	rr := do(t, srv, http.MethodPost, "/prompt", `{"prompt":"x"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if msg := decodeError(t, rr); !strings.Contains(msg, "api key not set") {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestRun(t *testing.T) {
	srv, _, p := newTestServer(t)
	p.runFunc = func(_ context.Context, command string) (string, error) {
		if command != "print(1)" {
			return "", errors.New("wrong command")
		}
		return "1", nil
	}

	rr := do(t, srv, http.MethodPost, "/run", `{"command":"print(1)"}`)
	if rr.Code != http.StatusOK || rr.Body.String() != "1" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, http.MethodPost, "/run", `{"command":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty command, got %d", rr.Code)
	}
}

func TestHealthzReportsQueue(t *testing.T) {
	srv, d, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = d.Execute(ctx, protocol.RunCode{Command: "x"}) }()

	var resp HealthzResponse
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rr := do(t, srv, http.MethodGet, "/healthz", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.QueueDepth == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if resp.Status != "ok" || resp.QueueDepth != 1 || resp.PendingCalls != 1 {
		t.Fatalf("unexpected health %+v", resp)
	}
	if resp.Version != "test" || resp.HistoryOn || resp.EventSubscribers != 0 {
		t.Fatalf("unexpected health %+v", resp)
	}
}

func TestHistory(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := do(t, srv, http.MethodGet, "/history", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty list when disabled, got %d %q", rr.Code, rr.Body.String())
	}

	var gotLimit int
	srv.history = &mockHistory{recentFunc: func(_ context.Context, limit int) ([]history.Entry, error) {
		gotLimit = limit
		return []history.Entry{{ID: "h1", Source: history.SourcePrompt, Prompt: "p"}}, nil
	}}

	rr = do(t, srv, http.MethodGet, "/history?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotLimit != 5 {
		t.Fatalf("expected limit 5, got %d", gotLimit)
	}
	var entries []history.Entry
	if err := json.NewDecoder(rr.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "h1" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	rr = do(t, srv, http.MethodGet, "/history?limit=abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestEventsStream(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.events.Publish(events.CallEnqueued, map[string]string{"call_id": "before"})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var typ, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				if typ != "" {
					return typ, data
				}
			case strings.HasPrefix(line, "event: "):
				typ = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	typ, data := readEvent()
	if typ != events.CallEnqueued || !strings.Contains(data, "before") {
		t.Fatalf("unexpected replayed event %s %s", typ, data)
	}

	srv.events.Publish(events.ResultDelivered, map[string]string{"call_id": "live"})
	typ, data = readEvent()
	if typ != events.ResultDelivered || !strings.Contains(data, "live") {
		t.Fatalf("unexpected live event %s %s", typ, data)
	}
}

func TestParseLastEventID(t *testing.T) {
	cases := map[string]int64{"": 0, "12": 12, "-3": 0, "x": 0}
	for in, want := range cases {
		if got := parseLastEventID(in); got != want {
			t.Fatalf("parseLastEventID(%q)=%d, want %d", in, got, want)
		}
	}
}

func TestWriteSSEFraming(t *testing.T) {
	rr := httptest.NewRecorder()
	err := writeSSE(rr, events.Event{ID: 7, Type: "call.enqueued", Data: json.RawMessage(`{"a":1}`)})
	if err != nil {
		t.Fatalf("writeSSE: %v", err)
	}
	want := "id: 7\nevent: call.enqueued\ndata: {\"a\":1}\n\n"
	if !bytes.Equal(rr.Body.Bytes(), []byte(want)) {
		t.Fatalf("unexpected framing %q", rr.Body.String())
	}
}

func TestEventsStreamFiltersAndEndsOnHubClose(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.events.Publish(events.PromptReceived, nil)
	srv.events.Publish(events.CallEnqueued, map[string]string{"call_id": "c1"})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?type=call.", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	// Wait for the replay so the subscription is registered before closing.
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.Contains(line, events.PromptReceived) {
			t.Fatalf("filtered event leaked into replay: %q", line)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}

	srv.events.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("stream did not end cleanly: %v", err)
	}
	if strings.Contains(string(body), events.PromptReceived) {
		t.Fatalf("filtered event leaked into stream: %q", body)
	}
}
