package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"sentinel/internal/advisor"
	"sentinel/internal/db"
	"sentinel/internal/domain"
	"sentinel/internal/engine"
	"sentinel/internal/migrate"
	"sentinel/internal/overseer"
	"sentinel/internal/repo"
	"sentinel/internal/telemetry"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	Store  repo.Store
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig, opts ...func(*Config)) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := repo.NewStore(conn)
	metrics := telemetry.New()
	e := engine.New(store, engine.WithMetrics(metrics))
	if err := e.Open(ctx); err != nil {
		t.Fatalf("open engine: %v", err)
	}
	cfg := Config{Engine: e, Store: store, Metrics: metrics, BasePath: "/v0", Auth: auth}
	for _, opt := range opts {
		opt(&cfg)
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Store:  store,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func anonymous() AuthConfig { return AuthConfig{AllowAnonymous: true} }

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestCreateAndListTasks(t *testing.T) {
	srv := newTestServer(t, anonymous())
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/weeks/s2-w7/tasks", map[string]any{
		"description": "Apply to 5 companies",
		"type":        "application",
		"due_date":    "2026-01-30",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.Status != domain.StatusPending || !strings.HasPrefix(created.ID, "t-") {
		t.Fatalf("unexpected task %+v", created)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?filter=pending", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list TasksResponse
	_ = json.Unmarshal(data, &list)
	found := false
	for _, task := range list.Items {
		if task.ID == created.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("created task missing from pending list")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/weeks/nope/tasks", map[string]any{
		"description": "x", "type": "admin",
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown week, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?filter=bogus", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown filter, got %d %s", res.StatusCode, string(data))
	}
}

func TestFailThroughCommands(t *testing.T) {
	srv := newTestServer(t, anonymous())
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/commands/failTask", map[string]any{
		"args": []any{"t1", "AgentX", "No evidence found"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("failTask status %d: %s", res.StatusCode, string(data))
	}
	s := srv.Engine.Snapshot()
	task, _ := s.FindTask("t1")
	if task.Status != domain.StatusFailed || s.ConsequenceLevel != 10 {
		t.Fatalf("expected failed task at level 10, got %s at %d", task.Status, s.ConsequenceLevel)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commands/launchRocket", map[string]any{"args": []any{}}, nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "unknown_action" {
		t.Fatalf("expected 404 unknown_action, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commands/failTask", map[string]any{"args": []any{"t1", 5}}, nil)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "bad_request" {
		t.Fatalf("expected 400 bad_request, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/commands", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"failTask"`) {
		t.Fatalf("list commands: %d %s", res.StatusCode, string(data))
	}
}

func TestPatchTask(t *testing.T) {
	srv := newTestServer(t, anonymous())
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/t2", `{"priority":"high"}`, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/t2", `{"status":"completed","completedAt":"2026-01-20T10:00:00.000Z"}`, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	var task domain.Task
	_ = json.Unmarshal(data, &task)
	if task.Status != domain.StatusCompleted || task.CompletedAt == "" {
		t.Fatalf("unexpected task after patch: %+v", task)
	}

	res, _ = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/missing", `{"description":"x"}`, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestDeleteTask(t *testing.T) {
	srv := newTestServer(t, anonymous())
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/t3", nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/t3", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestImportExport(t *testing.T) {
	srv := newTestServer(t, anonymous())
	client := srv.Client()

	res, exported := doJSON(t, client, http.MethodGet, srv.URL+"/v0/state/export", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d", res.StatusCode)
	}
	if !strings.Contains(res.Header.Get("Content-Disposition"), "sentinel_backup_") {
		t.Fatalf("unexpected disposition %q", res.Header.Get("Content-Disposition"))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/state/import", `{"user":{"name":"x"}}`, nil)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "bad_request" {
		t.Fatalf("expected 400 for invalid import, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/state/import", exported, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/audit?action=STATE_IMPORTED", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit status %d: %s", res.StatusCode, string(data))
	}
	var audit AuditResponse
	_ = json.Unmarshal(data, &audit)
	if len(audit.Items) != 1 {
		t.Fatalf("expected one STATE_IMPORTED row, got %d", len(audit.Items))
	}
}

func TestRulesAndTrigger(t *testing.T) {
	srv := newTestServer(t, anonymous())
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules/r3/trigger", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("trigger status %d: %s", res.StatusCode, string(data))
	}
	var tr TriggerResponse
	_ = json.Unmarshal(data, &tr)
	if tr.ConsequenceLevel != 25 {
		t.Fatalf("expected level 25, got %d", tr.ConsequenceLevel)
	}
	if got := srv.Engine.Snapshot().Logs[0].Details; got != "Consequence Triggered: $100 Donation to Hated Cause" {
		t.Fatalf("unexpected log %q", got)
	}
}

func TestVerificationWithoutOverseer(t *testing.T) {
	srv := newTestServer(t, anonymous())
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/t2/verification", nil, nil)
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %s", res.StatusCode, string(data))
	}
}

// heldAdvisor holds each verification until a verdict is released.
type heldAdvisor struct {
	release chan advisor.Verdict
}

func (a heldAdvisor) Verify(ctx context.Context, _ domain.Task) advisor.Verdict {
	select {
	case v := <-a.release:
		return v
	case <-ctx.Done():
		return advisor.FailedVerdict(ctx.Err())
	}
}

func (heldAdvisor) SuggestType(_ context.Context, description, _ string) (domain.TaskType, bool) {
	if strings.Contains(description, "coffee") {
		return domain.TypeNetworking, true
	}
	return "", false
}

func (heldAdvisor) GenerateDetails(context.Context, string) (advisor.Details, bool) {
	return advisor.Details{Description: "Apply to 3 fintech roles", Criteria: "3 confirmation emails", Type: domain.TypeApplication}, true
}

func (heldAdvisor) GenerateSubTasks(context.Context, string) []string { return nil }

func (heldAdvisor) Prioritize(context.Context, []domain.Task) []string { return nil }

func (heldAdvisor) Chat(context.Context, []domain.ChatMessage, string) string { return "" }

func withOverseer(adv advisor.Advisor, ov **overseer.Overseer) func(*Config) {
	return func(cfg *Config) {
		*ov = overseer.New(cfg.Engine, adv)
		cfg.Overseer = *ov
	}
}

func TestVerificationIndicator(t *testing.T) {
	adv := heldAdvisor{release: make(chan advisor.Verdict, 1)}
	var ov *overseer.Overseer
	srv := newTestServer(t, anonymous(), withOverseer(adv, &ov))
	t.Cleanup(ov.Close)
	client := srv.Client()
	if err := srv.Engine.Login(context.Background(), "Candidate", true); err != nil {
		t.Fatalf("login: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t2/verification", nil, nil)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", res.StatusCode, string(data))
	}
	var vr VerificationResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !vr.Started || !vr.Verifying || vr.Status != domain.StatusPending {
		t.Fatalf("unexpected start response %+v", vr)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/verifications", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"t2"`) {
		t.Fatalf("expected t2 in flight, got %d %s", res.StatusCode, string(data))
	}

	adv.release <- advisor.Verdict{Verified: true, Notes: "Site is live"}
	ov.Wait()
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/t2/verification", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", res.StatusCode, string(data))
	}
	vr = VerificationResponse{}
	if err := json.Unmarshal(data, &vr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if vr.Verifying || vr.Status != domain.StatusVerified {
		t.Fatalf("unexpected status after verdict %+v", vr)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/nope/verification", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestAdvisorDrafting(t *testing.T) {
	var ov *overseer.Overseer
	srv := newTestServer(t, anonymous(), withOverseer(heldAdvisor{release: make(chan advisor.Verdict)}, &ov))
	t.Cleanup(ov.Close)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/advisor/suggest-type", map[string]any{
		"description": "coffee with a recruiter",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", res.StatusCode, string(data))
	}
	var st SuggestTypeResponse
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Suggested || st.Type != domain.TypeNetworking {
		t.Fatalf("unexpected suggestion %+v", st)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/advisor/suggest-type", map[string]any{
		"description": "something vague",
	}, nil)
	st = SuggestTypeResponse{}
	if err := json.Unmarshal(data, &st); err != nil || res.StatusCode != http.StatusOK || st.Suggested {
		t.Fatalf("expected empty suggestion, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/advisor/details", map[string]any{
		"input": "apply to fintech roles by friday",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", res.StatusCode, string(data))
	}
	var dr DetailsResponse
	if err := json.Unmarshal(data, &dr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !dr.Generated || dr.Type != domain.TypeApplication || dr.Criteria != "3 confirmation emails" {
		t.Fatalf("unexpected details %+v", dr)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/advisor/details", map[string]any{"input": "  "}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "s3cret"})
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/state", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/state", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}

	token, err := SignToken("s3cret", "AgentX")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t2/fail", map[string]any{"reason": "late"},
		map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fail with jwt: %d %s", res.StatusCode, string(data))
	}
	if actor := srv.Engine.Snapshot().Logs[0].Actor; actor != "AgentX" {
		t.Fatalf("expected actor from token, got %q", actor)
	}

	key := "sk-test"
	if err := srv.Store.Repo.InsertAPIKey(context.Background(), repo.APIKey{ID: "k1", ActorID: "Scripted", KeyHash: repo.HashAPIKey(key)}); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/logs", map[string]any{
		"action": "NOTE", "details": "hello", "level": "info",
	}, map[string]string{"X-Api-Key": key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add log with api key: %d %s", res.StatusCode, string(data))
	}
	if actor := srv.Engine.Snapshot().Logs[0].Actor; actor != "Scripted" {
		t.Fatalf("expected actor from api key, got %q", actor)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, anonymous())
	client := srv.Client()
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t2/toggle", nil, nil)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "sentinel_commands_total") {
		t.Fatalf("metrics missing command counter")
	}
}
