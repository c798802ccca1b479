package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/flowmcp/bus"
	"github.com/petal-labs/flowmcp/network"
	"github.com/petal-labs/flowmcp/tool"
)

type testHarness struct {
	srv *Server
	bus *bus.MemBus
}

// testServer creates a Server with a small catalogue suitable for testing.
func testServer(t *testing.T, mutate ...func(*ServerConfig)) testHarness {
	t.Helper()

	reg := tool.NewRegistry()
	reg.MustRegister(tool.Definition{Name: "health", Description: "Liveness check"}, func(context.Context, tool.Call) (any, error) {
		return map[string]any{"ok": true}, nil
	})
	reg.MustRegister(tool.Definition{Name: "echo"}, func(_ context.Context, call tool.Call) (any, error) {
		var params map[string]any
		if err := json.Unmarshal(call.Params, &params); err != nil {
			return nil, tool.InvalidParameters("invalid parameters: %v", err)
		}
		call.Emit("echo.called", params)
		return params, nil
	})
	reg.MustRegister(tool.Definition{Name: "broken"}, func(context.Context, tool.Call) (any, error) {
		return nil, errors.New("access node unreachable")
	})

	selection, ok := network.Default().Select("testnet", "")
	if !ok {
		t.Fatal("testnet missing from default table")
	}

	eb := bus.NewMemBus(bus.MemBusConfig{})
	t.Cleanup(func() { _ = eb.Close() })

	cfg := ServerConfig{
		Registry:     reg,
		Bus:          eb,
		Network:      selection,
		Version:      "1.2.3",
		SSEHeartbeat: time.Hour,
		CORSOrigin:   "*",
		MaxBody:      1 << 20,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	return testHarness{srv: NewServer(cfg), bus: eb}
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	h := testServer(t)
	w := doRequest(t, h.srv.Handler(), http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeBody(t, w)["status"]; got != "ok" {
		t.Fatalf("got status %q, want %q", got, "ok")
	}
}

func TestInfo(t *testing.T) {
	h := testServer(t)
	w := doRequest(t, h.srv.Handler(), http.MethodGet, "/", "")

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	if body["name"] != ServerName {
		t.Errorf("name = %v, want %s", body["name"], ServerName)
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", body["version"])
	}
	if body["network"] != "testnet" {
		t.Errorf("network = %v, want testnet", body["network"])
	}
	if desc, _ := body["description"].(string); !strings.Contains(desc, "Flow") {
		t.Errorf("description = %q", desc)
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	h := testServer(t)
	w := doRequest(t, h.srv.Handler(), http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMessages_Success(t *testing.T) {
	h := testServer(t)
	w := doRequest(t, h.srv.Handler(), http.MethodPost, "/messages", `{"tool":"health","parameters":{}}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	result, ok := decodeBody(t, w)["result"].(map[string]any)
	if !ok || result["ok"] != true {
		t.Fatalf("result = %v, want {ok:true}", result)
	}
}

func TestMessages_EchoesID(t *testing.T) {
	h := testServer(t)
	w := doRequest(t, h.srv.Handler(), http.MethodPost, "/messages", `{"id":"req-1","tool":"echo","parameters":{"a":1}}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["id"] != "req-1" {
		t.Errorf("id = %v, want req-1", body["id"])
	}

	w = doRequest(t, h.srv.Handler(), http.MethodPost, "/messages", `{"tool":"health"}`)
	if _, present := decodeBody(t, w)["id"]; present {
		t.Errorf("id should be omitted when absent: %s", w.Body.String())
	}
}

func TestMessages_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "unknown tool", body: `{"tool":"missing"}`, wantStatus: http.StatusInternalServerError, wantError: "Tool not found: missing"},
		{name: "missing tool", body: `{"parameters":{}}`, wantStatus: http.StatusBadRequest, wantError: "Tool name is required"},
		{name: "blank tool", body: `{"tool":"   "}`, wantStatus: http.StatusBadRequest, wantError: "Tool name is required"},
		{name: "invalid parameters", body: `{"tool":"echo","parameters":[1]}`, wantStatus: http.StatusInternalServerError, wantError: "invalid parameters"},
		{name: "handler failure", body: `{"tool":"broken"}`, wantStatus: http.StatusInternalServerError, wantError: "access node unreachable"},
		{name: "malformed json", body: `{"tool":`, wantStatus: http.StatusBadRequest, wantError: "Invalid JSON: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testServer(t)
			w := doRequest(t, h.srv.Handler(), http.MethodPost, "/messages", tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			body := decodeBody(t, w)
			msg, _ := body["error"].(string)
			if !strings.Contains(msg, tt.wantError) {
				t.Fatalf("error = %q, want it to contain %q", msg, tt.wantError)
			}
			if _, present := body["result"]; present {
				t.Fatalf("failure reply must not carry a result: %s", w.Body.String())
			}
		})
	}
}

func TestMessages_BodyTooLarge(t *testing.T) {
	h := testServer(t, func(cfg *ServerConfig) { cfg.MaxBody = 32 })
	body := `{"tool":"echo","parameters":{"padding":"` + strings.Repeat("x", 64) + `"}}`

	w := doRequest(t, h.srv.Handler(), http.MethodPost, "/messages", body)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestMessages_GetNotAllowed(t *testing.T) {
	h := testServer(t)
	w := doRequest(t, h.srv.Handler(), http.MethodGet, "/messages", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestMessages_ToolEventsReachBus(t *testing.T) {
	h := testServer(t)
	sub := h.bus.Subscribe()
	defer sub.Close()

	w := doRequest(t, h.srv.Handler(), http.MethodPost, "/messages", `{"tool":"echo","parameters":{"x":"y"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}

	select {
	case evt := <-sub.Events():
		if evt.Kind != "echo.called" {
			t.Fatalf("kind = %q, want echo.called", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestTools(t *testing.T) {
	h := testServer(t)
	w := doRequest(t, h.srv.Handler(), http.MethodGet, "/tools", "")

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	var defs []tool.Definition
	if err := json.Unmarshal(w.Body.Bytes(), &defs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(defs) != 3 || defs[0].Name != "health" || defs[2].Name != "broken" {
		t.Fatalf("unexpected catalogue: %+v", defs)
	}
}

func TestNetworks(t *testing.T) {
	h := testServer(t)
	w := doRequest(t, h.srv.Handler(), http.MethodGet, "/networks", "")

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	var info network.Info
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if info.Current != "testnet" {
		t.Errorf("current = %q", info.Current)
	}
	if len(info.Available) != 3 {
		t.Errorf("available = %v", info.Available)
	}
	if info.Contracts["FlowToken"] == "" {
		t.Errorf("FlowToken contract missing: %v", info.Contracts)
	}
}

func TestMetricsRouteOnlyWhenConfigured(t *testing.T) {
	h := testServer(t)
	if w := doRequest(t, h.srv.Handler(), http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Fatalf("got status %d without metrics handler, want 404", w.Code)
	}

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("flowmcp_tool_invocations_total 1\n"))
	})
	h = testServer(t, func(cfg *ServerConfig) { cfg.Metrics = metrics })
	w := doRequest(t, h.srv.Handler(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "flowmcp_tool_invocations_total") {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestCORSMiddleware(t *testing.T) {
	h := testServer(t, func(cfg *ServerConfig) { cfg.CORSOrigin = "https://example.com" })

	w := doRequest(t, h.srv.Handler(), http.MethodOptions, "/messages", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("Allow-Origin = %q", got)
	}

	w = doRequest(t, h.srv.Handler(), http.MethodGet, "/health", "")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("Allow-Origin on GET = %q", got)
	}
}

func TestCORSDefaultsToWildcard(t *testing.T) {
	h := testServer(t, func(cfg *ServerConfig) { cfg.CORSOrigin = "" })
	w := doRequest(t, h.srv.Handler(), http.MethodGet, "/health", "")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Allow-Origin = %q, want *", got)
	}
}

func TestSSEReceivesToolEvents(t *testing.T) {
	h := testServer(t)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.bus.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("SSE session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	post, err := http.Post(ts.URL+"/messages", "application/json", strings.NewReader(`{"tool":"echo","parameters":{"k":"v"}}`))
	if err != nil {
		t.Fatalf("POST /messages: %v", err)
	}
	_ = post.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == "event: echo.called" {
			return
		}
	}
	t.Fatalf("stream ended before event: %v", scanner.Err())
}

func TestMessages_DispatchFailuresAre500(t *testing.T) {
	h := testServer(t)
	for _, body := range []string{
		`{"id":1,"tool":"missing"}`,
		`{"id":2,"tool":"echo","parameters":"not an object"}`,
		`{"id":3,"tool":"broken"}`,
	} {
		w := doRequest(t, h.srv.Handler(), http.MethodPost, "/messages", body)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("%s: got status %d, want %d", body, w.Code, http.StatusInternalServerError)
		}
		if _, present := decodeBody(t, w)["id"]; !present {
			t.Errorf("%s: id not echoed on failure: %s", body, w.Body.String())
		}
	}
}
