package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"authgrid.org/internal/entity"
	"authgrid.org/internal/events"
	"authgrid.org/internal/ledger"
	"authgrid.org/internal/rbac"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	audit, err := ledger.NewService(ledger.NewInMemory())
	if err != nil {
		t.Fatalf("ledger.NewService: %v", err)
	}
	dispatcher, err := events.NewDispatcher(events.NewInMemory(), events.NullPublisher{})
	if err != nil {
		t.Fatalf("events.NewDispatcher: %v", err)
	}
	entities, err := entity.NewService(entity.NewInMemory(), audit, entity.WithEventSink(dispatcher))
	if err != nil {
		t.Fatalf("entity.NewService: %v", err)
	}
	rbacSvc, err := rbac.NewService(rbac.NewInMemory(), entities, audit, rbac.WithEventSink(dispatcher))
	if err != nil {
		t.Fatalf("rbac.NewService: %v", err)
	}

	api := New(Deps{
		Entities: entities,
		RBAC:     rbacSvc,
		Audit:    audit,
		Events:   dispatcher,
	}, Config{Version: "test", RateLimitRPS: 1000, RateLimitBurst: 1000})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t}
}

func (c *apiClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any) *http.Response {
	return c.do(http.MethodPost, path, body)
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	resp, err := c.client.Get(u.String())
	if err != nil {
		c.t.Fatalf("get: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (c *apiClient) createEntity(name, typ, parentID string) map[string]any {
	c.t.Helper()
	resp := c.post("/v1/entities", map[string]any{
		"name": name, "type": typ, "parent_id": parentID,
	})
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create entity %s: status %d", name, resp.StatusCode)
	}
	var out map[string]any
	decodeBody(c.t, resp, &out)
	return out
}

func TestHealthz(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateEntityAndDuplicateConflict(t *testing.T) {
	c := newTestAPI(t)

	first := c.createEntity("Acme Capital", "issuer", "")
	if first["id"] == "" {
		t.Fatalf("missing id in %v", first)
	}

	resp := c.post("/v1/entities", map[string]any{"name": "Acme Capital", "type": "issuer"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["existing_id"] != first["id"] {
		t.Fatalf("existing_id = %v, want %v", body["existing_id"], first["id"])
	}
}

func TestCreateEntityValidation(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/entities", map[string]any{"name": "", "type": "issuer"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty name status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/entities", map[string]any{"name": "X", "type": "starship"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad type status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuthorizeThroughHierarchy(t *testing.T) {
	c := newTestAPI(t)

	issuer := c.createEntity("Root Issuer", "issuer", "")
	spv := c.createEntity("SPV One", "spv", issuer["id"].(string))
	sibling := c.createEntity("SPV Two", "spv", issuer["id"].(string))

	resp := c.post("/v1/roles", map[string]any{
		"name":        "doc-manager",
		"permissions": []string{"document:upload"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create role status = %d", resp.StatusCode)
	}
	var role map[string]any
	decodeBody(t, resp, &role)

	resp = c.post("/v1/assignments", map[string]any{
		"principal_id": "user-1",
		"entity_id":    spv["id"],
		"role_id":      role["id"],
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assign status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	check := func(entityID string, want bool) {
		t.Helper()
		resp := c.post("/v1/authorize", map[string]any{
			"principal_id": "user-1",
			"action":       "document:upload",
			"entity_id":    entityID,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("authorize status = %d", resp.StatusCode)
		}
		var body map[string]any
		decodeBody(t, resp, &body)
		if body["allowed"] != want {
			t.Fatalf("allowed for %s = %v, want %v", entityID, body["allowed"], want)
		}
	}

	check(spv["id"].(string), true)
	// Grants never flow upward or sideways through the hierarchy.
	check(issuer["id"].(string), false)
	check(sibling["id"].(string), false)

	resp = c.post("/v1/authorize", map[string]any{
		"principal_id": "user-2",
		"action":       "document:upload",
		"entity_id":    spv["id"],
	})
	var denied map[string]any
	decodeBody(t, resp, &denied)
	if denied["allowed"] != false {
		t.Fatalf("user-2 should be denied, got %v", denied)
	}
}

func TestAuthorizeUnknownEntityIsNotFound(t *testing.T) {
	c := newTestAPI(t)
	resp := c.post("/v1/authorize", map[string]any{
		"principal_id": "user-1",
		"action":       "document:upload",
		"entity_id":    "missing",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestScopeViolationIsUnprocessable(t *testing.T) {
	c := newTestAPI(t)

	investor := c.createEntity("Jane Doe", "investor", "")

	resp := c.post("/v1/roles", map[string]any{
		"name":        "issuer-admin",
		"scope_types": []string{"issuer"},
		"permissions": []string{"property:create"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create role status = %d", resp.StatusCode)
	}
	var role map[string]any
	decodeBody(t, resp, &role)

	resp = c.post("/v1/assignments", map[string]any{
		"principal_id": "user-1",
		"entity_id":    investor["id"],
		"role_id":      role["id"],
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuditListAndVerify(t *testing.T) {
	c := newTestAPI(t)

	c.createEntity("Audited Co", "issuer", "")

	resp := c.get("/v1/audit", url.Values{"action": {"entity.create"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit list status = %d", resp.StatusCode)
	}
	var list map[string][]ledger.Entry
	decodeBody(t, resp, &list)
	if len(list["items"]) != 1 {
		t.Fatalf("audit items = %d, want 1", len(list["items"]))
	}

	resp = c.get("/v1/audit/verify", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", resp.StatusCode)
	}
	var result ledger.VerificationResult
	decodeBody(t, resp, &result)
	if !result.Valid {
		t.Fatalf("chain should verify: %+v", result)
	}
}

func TestEventIngestAndReplayRules(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/events", map[string]any{
		"event_type": "kyc.completed",
		"source":     "kyc_service",
		"payload":    map[string]any{"user_id": "user-1"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}
	var ev events.PlatformEvent
	decodeBody(t, resp, &ev)
	if ev.EventID == "" || ev.DeliveryState != events.DeliverySucceeded {
		t.Fatalf("unexpected event %+v", ev)
	}

	// Replay applies to failed deliveries only.
	resp = c.post("/v1/events/"+ev.EventID+"/replay", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("replay status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/events/"+ev.EventID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get event status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/events", url.Values{"delivery_state": {"succeeded"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list events status = %d", resp.StatusCode)
	}
	var listed map[string][]events.PlatformEvent
	decodeBody(t, resp, &listed)
	if len(listed["items"]) != 1 {
		t.Fatalf("listed items = %d, want 1", len(listed["items"]))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodDelete, "/v1/entities", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow == "" {
		t.Fatalf("expected Allow header")
	}
	resp.Body.Close()
}
