package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"keyturn/internal/app"
	"keyturn/internal/config"
	"keyturn/internal/db"
	"keyturn/internal/engine"
	"keyturn/internal/migrate"
	"keyturn/internal/repo"
)

// newTestServer stands up the full handler over a seeded workspace. Tests
// authenticate with the legacy actor header so each request can pick its
// actor without minting tokens; JWT login is covered separately.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := app.SeedDirectory(context.Background(), repo.Repo{DB: conn}, config.Default("keyturn")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h, err := New(Config{
		Engine: engine.New(conn),
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
			Logger:                 log.New(io.Discard, "", 0),
		},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

// doJSON issues a request as the given actor and decodes the response into out.
func doJSON(t *testing.T, ts *httptest.Server, method, urlPath, actorID string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+urlPath, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actorID != "" {
		req.Header.Set("X-Actor-Id", actorID)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, urlPath, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s %s (%d): %v\n%s", method, urlPath, resp.StatusCode, err, data)
		}
	}
	return resp.StatusCode
}

type errEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func futureDue() string {
	return time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
}

func createTaskHTTP(t *testing.T, ts *httptest.Server) TaskResponse {
	t.Helper()
	var task TaskResponse
	status := doJSON(t, ts, http.MethodPost, "/v1/tasks", "user-2", map[string]any{
		"property_id": "prop-1",
		"title":       "Turnover Apt 402",
		"type":        "turnover",
		"due_at":      futureDue(),
	}, &task)
	if status != http.StatusCreated {
		t.Fatalf("create task: status %d", status)
	}
	return task
}

func TestHTTPTaskLifecycle(t *testing.T) {
	ts := newTestServer(t)
	task := createTaskHTTP(t, ts)
	if task.Status != "pending" {
		t.Fatalf("expected pending, got %s", task.Status)
	}

	var out TaskResponse
	if s := doJSON(t, ts, http.MethodPost, "/v1/tasks/"+task.ID+"/assign", "user-3",
		map[string]any{"cleaner_ids": []string{"user-4"}}, &out); s != http.StatusOK {
		t.Fatalf("assign: status %d", s)
	}
	if out.Status != "assigned" || len(out.Assignees) != 1 {
		t.Fatalf("unexpected after assign: %+v", out)
	}
	if s := doJSON(t, ts, http.MethodPost, "/v1/tasks/"+task.ID+"/start", "user-4", nil, &out); s != http.StatusOK || out.Status != "in_progress" {
		t.Fatalf("start: status %d body %+v", s, out)
	}

	var incident IncidentResponse
	if s := doJSON(t, ts, http.MethodPost, "/v1/tasks/"+task.ID+"/incidents", "user-4", map[string]any{
		"description":    "Broken glass found in kitchen sink",
		"severity":       "medium",
		"estimated_cost": 25.0,
	}, &incident); s != http.StatusCreated {
		t.Fatalf("report incident: status %d", s)
	}
	if incident.Status != "open" || incident.ReportedBy != "user-4" {
		t.Fatalf("unexpected incident: %+v", incident)
	}

	if s := doJSON(t, ts, http.MethodPost, "/v1/tasks/"+task.ID+"/submit", "user-4", nil, &out); s != http.StatusOK || out.Status != "submitted" {
		t.Fatalf("submit: status %d body %+v", s, out)
	}
	if s := doJSON(t, ts, http.MethodPost, "/v1/tasks/"+task.ID+"/review", "user-2",
		map[string]any{"decision": "approve"}, &out); s != http.StatusOK || out.Status != "approved" {
		t.Fatalf("review: status %d body %+v", s, out)
	}

	if s := doJSON(t, ts, http.MethodPost, "/v1/incidents/"+incident.ID+"/resolve", "user-2",
		map[string]any{"decision": "approve"}, &incident); s != http.StatusOK || incident.Status != "approved" {
		t.Fatalf("resolve: status %d body %+v", s, incident)
	}
	if s := doJSON(t, ts, http.MethodPost, "/v1/incidents/"+incident.ID+"/repair", "user-3", nil, &incident); s != http.StatusOK || incident.Status != "repaired" {
		t.Fatalf("repair: status %d body %+v", s, incident)
	}

	var events []EventResponse
	if s := doJSON(t, ts, http.MethodGet, "/v1/events?limit=20", "user-2", nil, &events); s != http.StatusOK {
		t.Fatalf("events: status %d", s)
	}
	if len(events) < 8 {
		t.Fatalf("expected full audit trail, got %d events", len(events))
	}

	var status map[string]any
	if s := doJSON(t, ts, http.MethodGet, "/v1/status", "user-1", nil, &status); s != http.StatusOK {
		t.Fatalf("status: %d", s)
	}
	if _, ok := status["task_counts"]; !ok {
		t.Fatalf("status missing task_counts: %v", status)
	}
}

func TestErrorEnvelopeKinds(t *testing.T) {
	ts := newTestServer(t)
	task := createTaskHTTP(t, ts)

	var env errEnvelope
	if s := doJSON(t, ts, http.MethodPost, "/v1/tasks/"+task.ID+"/assign", "user-1",
		map[string]any{"cleaner_ids": []string{"user-4"}}, &env); s != http.StatusForbidden {
		t.Fatalf("tenant assign: status %d", s)
	}
	if env.Error.Kind != "permission_denied" {
		t.Fatalf("expected permission_denied, got %q", env.Error.Kind)
	}

	env = errEnvelope{}
	if s := doJSON(t, ts, http.MethodPost, "/v1/tasks/"+task.ID+"/review", "user-2",
		map[string]any{"decision": "approve"}, &env); s != http.StatusConflict {
		t.Fatalf("review pending task: status %d", s)
	}
	if env.Error.Kind != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %q", env.Error.Kind)
	}

	env = errEnvelope{}
	if s := doJSON(t, ts, http.MethodGet, "/v1/tasks/no-such-task", "user-2", nil, &env); s != http.StatusNotFound {
		t.Fatalf("unknown task: status %d", s)
	}
	if env.Error.Kind != "not_found" {
		t.Fatalf("expected not_found, got %q", env.Error.Kind)
	}

	env = errEnvelope{}
	if s := doJSON(t, ts, http.MethodPost, "/v1/tasks", "user-2", map[string]any{
		"property_id": "prop-1", "title": "x", "type": "turnover", "due_at": "not-a-time",
	}, &env); s != http.StatusBadRequest {
		t.Fatalf("bad due_at: status %d", s)
	}
	if env.Error.Kind != "invalid_input" {
		t.Fatalf("expected invalid_input, got %q", env.Error.Kind)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/tasks", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list: status %d", resp.StatusCode)
	}
	var env errEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Kind != "unauthorized" {
		t.Fatalf("expected unauthorized, got %q", env.Error.Kind)
	}

	// health stays open
	var health map[string]string
	if s := doJSON(t, ts, http.MethodGet, "/v1/health", "", nil, &health); s != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("health: status %d body %v", s, health)
	}

	// unknown actor ids are rejected even via the legacy header
	if s := doJSON(t, ts, http.MethodGet, "/v1/tasks", "user-99", nil, nil); s != http.StatusUnauthorized {
		t.Fatalf("unknown actor: status %d", s)
	}
}

func TestDevLoginAndBearerAuth(t *testing.T) {
	ts := newTestServer(t)

	var login DevLoginResponse
	if s := doJSON(t, ts, http.MethodPost, "/v1/auth/dev/login", "",
		map[string]any{"actor_id": "user-2"}, &login); s != http.StatusOK {
		t.Fatalf("dev login: status %d", s)
	}
	if login.Token == "" {
		t.Fatal("expected token")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me with bearer: status %d", resp.StatusCode)
	}
	var me WhoAmIResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatal(err)
	}
	if me.ActorID != "user-2" || me.Role != "owner" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	// tokens must be signed with the configured secret
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/v1/me", nil)
	forged, err := signDevToken("other-secret", "user-2")
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+forged)
	resp2, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged token: status %d", resp2.StatusCode)
	}

	// dev login for an unknown actor fails
	if s := doJSON(t, ts, http.MethodPost, "/v1/auth/dev/login", "",
		map[string]any{"actor_id": "user-99"}, nil); s != http.StatusNotFound {
		t.Fatalf("dev login unknown actor: status %d", s)
	}
}

func TestListTasksPagination(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		var task TaskResponse
		if s := doJSON(t, ts, http.MethodPost, "/v1/tasks", "user-3", map[string]any{
			"property_id": "prop-2",
			"title":       fmt.Sprintf("Inspection pass %d", i+1),
			"type":        "inspection",
			"due_at":      futureDue(),
		}, &task); s != http.StatusCreated {
			t.Fatalf("create %d: status %d", i, s)
		}
	}

	var page paginatedTasks
	if s := doJSON(t, ts, http.MethodGet, "/v1/tasks?limit=2", "user-1", nil, &page); s != http.StatusOK {
		t.Fatalf("page 1: status %d", s)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("page 1: got %d items, cursor %q", len(page.Items), page.NextCursor)
	}
	var page2 paginatedTasks
	if s := doJSON(t, ts, http.MethodGet, "/v1/tasks?limit=2&cursor="+url.QueryEscape(page.NextCursor), "user-1", nil, &page2); s != http.StatusOK {
		t.Fatalf("page 2: status %d", s)
	}
	if len(page2.Items) != 1 || page2.NextCursor != "" {
		t.Fatalf("page 2: got %d items, cursor %q", len(page2.Items), page2.NextCursor)
	}

	var filtered paginatedTasks
	if s := doJSON(t, ts, http.MethodGet, "/v1/tasks?property_id=prop-1", "user-1", nil, &filtered); s != http.StatusOK {
		t.Fatalf("filter: status %d", s)
	}
	if len(filtered.Items) != 0 {
		t.Fatalf("prop-1 filter should be empty, got %d", len(filtered.Items))
	}
}
