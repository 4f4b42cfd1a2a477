//go:build !no_automation

package web

import (
	"encoding/json"
	"net/http"
	"testing"

	"ledstrip-bridge/internal/automation"
	"ledstrip-bridge/internal/hub"
)

func setupAutomationServer(t *testing.T) (*Server, *hub.Hub, *automation.Engine) {
	t.Helper()
	mgr, err := automation.NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	var engine *automation.Engine
	srv, h := setupTestServer(t, "", func(s *Server) {
		engine = automation.NewEngine(s.hub, mgr, testLogger())
		WithAutomation(engine, mgr)(s)
	})
	engine.Start()
	t.Cleanup(engine.Stop)
	return srv, h, engine
}

type automationResp struct {
	ID      string                `json:"id"`
	Meta    automation.ScriptMeta `json:"meta"`
	LuaCode string                `json:"lua_code"`
	Running bool                  `json:"running"`
}

func decodeAutomation(t *testing.T, body []byte) automationResp {
	t.Helper()
	var a automationResp
	if err := json.Unmarshal(body, &a); err != nil {
		t.Fatalf("decode: %v: %s", err, body)
	}
	return a
}

func TestAutomationCRUD(t *testing.T) {
	srv, _, _ := setupAutomationServer(t)

	w := do(t, srv, "POST", "/api/automations", `{"name":"Night Light","lua_code":"local x = 1","enabled":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", w.Code, w.Body.String())
	}
	created := decodeAutomation(t, w.Body.Bytes())
	if created.ID != "night_light" || !created.Running {
		t.Errorf("created = %+v", created)
	}

	w = do(t, srv, "GET", "/api/automations", "")
	var list []automationResp
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "night_light" {
		t.Errorf("list = %+v", list)
	}

	w = do(t, srv, "PUT", "/api/automations/night_light", `{"name":"Night Light","lua_code":"local y = 2","enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d", w.Code)
	}
	if got := decodeAutomation(t, w.Body.Bytes()); got.Running || got.LuaCode != "local y = 2" {
		t.Errorf("updated = %+v", got)
	}

	w = do(t, srv, "POST", "/api/automations/night_light/toggle", "")
	if got := decodeAutomation(t, w.Body.Bytes()); !got.Meta.Enabled || !got.Running {
		t.Errorf("toggled = %+v", got)
	}

	w = do(t, srv, "DELETE", "/api/automations/night_light", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", w.Code)
	}
	if w := do(t, srv, "GET", "/api/automations/night_light", ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", w.Code)
	}
}

func TestAutomationCreateRequiresName(t *testing.T) {
	srv, _, _ := setupAutomationServer(t)
	if w := do(t, srv, "POST", "/api/automations", `{"lua_code":""}`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAutomationRunInline(t *testing.T) {
	srv, h, _ := setupAutomationServer(t)
	host, sim := addSimStrip(t, h, "Desk")

	w := do(t, srv, "POST", "/api/automations/_inline/run", `{"lua_code":"strip.turn_on('Desk', {white = 255})\nstrip.log('done')"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res automation.RunResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || len(res.Logs) != 1 || res.Logs[0] != "done" {
		t.Errorf("result = %+v", res)
	}
	if on, _ := sim.State(); !on {
		t.Errorf("strip %s not turned on", host)
	}

	if w := do(t, srv, "POST", "/api/automations/missing/run", ""); w.Code != http.StatusNotFound {
		t.Errorf("run missing: status = %d, want 404", w.Code)
	}
}
