package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ledstrip-bridge/internal/device"
	"ledstrip-bridge/internal/hub"
	"ledstrip-bridge/internal/light"
	"ledstrip-bridge/internal/simulator"
	"ledstrip-bridge/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestServer(t *testing.T, apiKey string, opts ...ServerOption) (*Server, *hub.Hub) {
	t.Helper()
	logger := testLogger()

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	h := hub.New(db, hub.NewEventBus(logger), hub.Config{RefreshAfterCommand: true}, logger)
	t.Cleanup(h.Stop)

	if apiKey != "" {
		opts = append(opts, WithAPIKey(apiKey))
	}
	srv := NewServer(h, logger, opts...)
	t.Cleanup(srv.Stop)
	return srv, h
}

// addSimStrip registers a simulator-backed strip and returns its host.
func addSimStrip(t *testing.T, h *hub.Hub, name string) (string, *simulator.Device) {
	t.Helper()
	sim := simulator.New(testLogger())
	ts := httptest.NewServer(sim)
	t.Cleanup(ts.Close)
	host := strings.TrimPrefix(ts.URL, "http://")
	if _, err := h.Add(host, name); err != nil {
		t.Fatal(err)
	}
	return host, sim
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) light.State {
	t.Helper()
	var st light.State
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestAPIListStrips(t *testing.T) {
	srv, h := setupTestServer(t, "")
	addSimStrip(t, h, "Desk")
	addSimStrip(t, h, "Shelf")

	w := do(t, srv, "GET", "/api/strips", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var states []light.State
	if err := json.NewDecoder(w.Body).Decode(&states); err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Fatalf("got %d strips, want 2", len(states))
	}
}

func TestAPIAddStrip(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	w := do(t, srv, "POST", "/api/strips", `{"host":"10.0.0.7","name":"Desk"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if st := decodeState(t, w); st.Host != "10.0.0.7" || st.Name != "Desk" {
		t.Errorf("state = %+v", st)
	}

	w = do(t, srv, "POST", "/api/strips", `{"host":"10.0.0.7"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", w.Code)
	}

	w = do(t, srv, "POST", "/api/strips", `{"name":"nohost"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing host: status = %d, want 400", w.Code)
	}

	w = do(t, srv, "POST", "/api/strips", `{bad`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body: status = %d, want 400", w.Code)
	}
}

func TestAPIGetRenameDeleteStrip(t *testing.T) {
	srv, h := setupTestServer(t, "")
	host, _ := addSimStrip(t, h, "Desk")

	w := do(t, srv, "GET", "/api/strips/"+host, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d", w.Code)
	}
	if st := decodeState(t, w); st.Name != "Desk" {
		t.Errorf("name = %q", st.Name)
	}

	w = do(t, srv, "PATCH", "/api/strips/"+host, `{"name":"Shelf"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("rename: status = %d: %s", w.Code, w.Body.String())
	}
	if st := decodeState(t, w); st.Name != "Shelf" {
		t.Errorf("renamed = %q", st.Name)
	}

	w = do(t, srv, "DELETE", "/api/strips/"+host, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", w.Code)
	}

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/strips/" + host},
		{"DELETE", "/api/strips/" + host},
		{"POST", "/api/strips/" + host + "/on"},
		{"POST", "/api/strips/" + host + "/off"},
		{"POST", "/api/strips/" + host + "/poll"},
	} {
		if w := do(t, srv, tc.method, tc.path, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tc.method, tc.path, w.Code)
		}
	}
}

func TestAPITurnOnOff(t *testing.T) {
	srv, h := setupTestServer(t, "")
	host, sim := addSimStrip(t, h, "Desk")

	w := do(t, srv, "POST", "/api/strips/"+host+"/on", `{"white":128,"transition":0.5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("on: status = %d: %s", w.Code, w.Body.String())
	}
	st := decodeState(t, w)
	if !st.On || st.ColorMode != light.ColorModeWhite || !st.Available {
		t.Errorf("state after on = %+v", st)
	}
	on, c := sim.State()
	if !on || c.W < 0.5 || c.W > 0.51 {
		t.Errorf("device on=%v color=%+v", on, c)
	}

	w = do(t, srv, "POST", "/api/strips/"+host+"/off", "")
	if w.Code != http.StatusOK {
		t.Fatalf("off: status = %d", w.Code)
	}
	if st := decodeState(t, w); st.On {
		t.Error("still on after off")
	}
}

func TestAPITurnOnEmptyBody(t *testing.T) {
	srv, h := setupTestServer(t, "")
	host, sim := addSimStrip(t, h, "Desk")

	w := do(t, srv, "POST", "/api/strips/"+host+"/on", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if on, _ := sim.State(); !on {
		t.Error("device not powered on")
	}
}

func TestAPITurnOnUnknownEffect(t *testing.T) {
	srv, h := setupTestServer(t, "")
	host, _ := addSimStrip(t, h, "Desk")

	w := do(t, srv, "POST", "/api/strips/"+host+"/on", `{"effect":"rainbow"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAPIDeviceFailure(t *testing.T) {
	srv, h := setupTestServer(t, "")
	host, sim := addSimStrip(t, h, "Desk")

	sim.FailNext(5)
	w := do(t, srv, "POST", "/api/strips/"+host+"/poll", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}

	st, err := h.State(host)
	if err != nil {
		t.Fatal(err)
	}
	if st.Available {
		t.Error("strip should be unavailable after failure")
	}
}

func TestAPIInfo(t *testing.T) {
	srv, h := setupTestServer(t, "")
	host, sim := addSimStrip(t, h, "Desk")
	sim.SetMAC("AA:BB:CC:DD:EE:FF")

	w := do(t, srv, "GET", "/api/strips/"+host+"/info", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var info map[string]any
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info["mac"] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("info = %v", info)
	}
}

func TestAPIVersion(t *testing.T) {
	srv, _ := setupTestServer(t, "", WithVersion("1.2.3"))

	w := do(t, srv, "GET", "/api/version", "")
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["version"] != "1.2.3" {
		t.Errorf("version = %q", resp["version"])
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, _ := setupTestServer(t, "secret")

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"no key", "", "", http.StatusUnauthorized},
		{"wrong key", "nope", "", http.StatusUnauthorized},
		{"header key", "secret", "", http.StatusOK},
		{"query key", "", "?api_key=secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/strips"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	srv, _ := setupTestServer(t, "", WithAllowedOrigins([]string{"http://ok.example"}))

	req := httptest.NewRequest("OPTIONS", "/api/strips", nil)
	req.Header.Set("Origin", "http://ok.example")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://ok.example" {
		t.Errorf("allow-origin = %q", got)
	}

	req = httptest.NewRequest("POST", "/api/strips", bytes.NewReader([]byte(`{"host":"x"}`)))
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign origin: status = %d, want 403", w.Code)
	}
}

func TestWriteErrorStatus(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown strip", fmt.Errorf("strip x: %w", hub.ErrUnknownStrip), http.StatusNotFound},
		{"exists", fmt.Errorf("add: %w", hub.ErrExists), http.StatusConflict},
		{"device", &device.ConnectionError{Op: "get_status", Host: "x", Err: errors.New("refused")}, http.StatusBadGateway},
		{"rate limit deadline", fmt.Errorf("rate limit x: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.writeError(w, "test", tt.err)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
