package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"askverse/internal/adapter/store"
	"askverse/internal/domain"
	"askverse/internal/infra/config"
	"askverse/internal/usecase/auth"
)

type stubProcessor struct {
	mu      sync.Mutex
	queries []string
	fail    bool
}

func (p *stubProcessor) Process(_ context.Context, query string, _ map[string]any) *domain.OrchestrationResult {
	p.mu.Lock()
	p.queries = append(p.queries, query)
	p.mu.Unlock()
	if p.fail {
		return domain.FailedOrchestration(errors.New("boom"))
	}
	answer := "answer to " + query
	return &domain.OrchestrationResult{
		Success:    true,
		Response:   &answer,
		Confidence: 0.8,
		SubTaskResults: []domain.SubTaskResult{{
			Task:       query,
			AgentKind:  domain.AgentDocument,
			Confidence: 0.7,
			Payload: map[string]any{"documents": []map[string]any{
				{"title": "Guide", "url": "https://wiki/guide", "relevance_score": 0.9, "source": "confluence"},
			}},
		}},
		Duration: 20 * time.Millisecond,
	}
}

type stubSync struct {
	running bool
	err     error
	calls   int
}

func (s *stubSync) Trigger(context.Context) error { s.calls++; return s.err }
func (s *stubSync) Running() bool                 { return s.running }

type stubEndpoints []domain.Endpoint

func (e stubEndpoints) List() []domain.Endpoint { return e }

type testEnv struct {
	srv   *Server
	repo  domain.Repository
	auth  *auth.Service
	proc  *stubProcessor
	sync  *stubSync
	token string
	user  *domain.User
}

func newTestEnv(t *testing.T, requireAuth bool) *testEnv {
	t.Helper()
	repo, err := store.NewSQLiteRepository(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := auth.NewService(repo, logger)
	user, err := authSvc.Register(context.Background(), "dev@example.com", "password123")
	if err != nil {
		t.Fatal(err)
	}
	creds, err := authSvc.IssueAPIKey(context.Background(), user.ID, "test")
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{repo: repo, auth: authSvc, proc: &stubProcessor{}, sync: &stubSync{}, token: creds.Token(), user: user}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.srv = NewServer(ctx, Deps{
		Queries: env.proc,
		Repo:    repo,
		Auth:    authSvc,
		Sync:    env.sync,
		APIs:    stubEndpoints{{Method: "GET", Path: "/users", URL: "https://api/users"}},
		Logger:  logger,
	}, config.ServerConfig{RequireAuth: requireAuth, CORSOrigins: []string{"*"}})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthIsOpen(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, "GET", "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["status"]; got != "healthy" {
		t.Errorf("status = %q", got)
	}
}

func TestQueryPersistsResult(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, "POST", "/api/v1/query", `{"query":"how do I deploy?","context":{"team":"infra"}}`, env.token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	res := decode[domain.OrchestrationResult](t, rec)
	if !res.Success || res.QueryID == "" {
		t.Fatalf("result = %+v", res)
	}

	stored, err := env.repo.GetQuery(context.Background(), res.QueryID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.UserID != env.user.ID {
		t.Errorf("user id = %q, want %q", stored.UserID, env.user.ID)
	}
	if stored.ResponseText != "answer to how do I deploy?" {
		t.Errorf("response = %q", stored.ResponseText)
	}
	if len(stored.Sources) != 1 || stored.Sources[0].SourceID != "https://wiki/guide" || stored.Sources[0].SourceType != "confluence" {
		t.Errorf("sources = %+v", stored.Sources)
	}
	if got := env.srv.Metrics().QueriesTotal.Load(); got != 1 {
		t.Errorf("queries total = %d", got)
	}
}

func TestQueryFailureStillReturns200(t *testing.T) {
	env := newTestEnv(t, false)
	env.proc.fail = true
	rec := env.do(t, "POST", "/api/v1/query", `{"query":"q"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	res := decode[domain.OrchestrationResult](t, rec)
	if res.Success || res.Error != "boom" || res.Response != nil {
		t.Errorf("result = %+v", res)
	}
	if got := env.srv.Metrics().QueriesFailed.Load(); got != 1 {
		t.Errorf("queries failed = %d", got)
	}
}

func TestQueryValidation(t *testing.T) {
	env := newTestEnv(t, false)
	for _, body := range []string{`{`, `{"query":"   "}`, `{}`} {
		rec := env.do(t, "POST", "/api/v1/query", body, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
		if got := decode[errorBody](t, rec).Code; got != domain.CodeInvalidInput {
			t.Errorf("body %q: code = %q", body, got)
		}
	}
	if len(env.proc.queries) != 0 {
		t.Errorf("processor called %d times", len(env.proc.queries))
	}
}

func TestAuthentication(t *testing.T) {
	tests := []struct {
		name        string
		requireAuth bool
		header      string
		value       string
		want        int
	}{
		{"required and missing", true, "", "", http.StatusUnauthorized},
		{"required and valid bearer", true, "Authorization", "Bearer TOKEN", http.StatusOK},
		{"required and valid api key header", true, "X-API-Key", "TOKEN", http.StatusOK},
		{"wrong secret", true, "Authorization", "Bearer CLIENT:nope", http.StatusUnauthorized},
		{"malformed token", true, "X-API-Key", "no-colon", http.StatusUnauthorized},
		{"optional and missing", false, "", "", http.StatusOK},
		{"optional but invalid", false, "X-API-Key", "CLIENT:nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.requireAuth)
			clientID, _, _ := auth.ParseToken(env.token)
			req := httptest.NewRequest("GET", "/api/v1/queries", nil)
			if tt.header != "" {
				v := strings.ReplaceAll(tt.value, "TOKEN", env.token)
				req.Header.Set(tt.header, strings.ReplaceAll(v, "CLIENT", clientID))
			}
			rec := httptest.NewRecorder()
			env.srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
			if tt.want == http.StatusUnauthorized {
				if got := decode[errorBody](t, rec).Code; got != domain.CodeAuthInvalid {
					t.Errorf("code = %q", got)
				}
			}
		})
	}
}

func TestQueriesAreScopedToOwner(t *testing.T) {
	env := newTestEnv(t, true)
	mine := decode[domain.OrchestrationResult](t, env.do(t, "POST", "/api/v1/query", `{"query":"mine"}`, env.token))

	someone, err := env.auth.Register(context.Background(), "other@example.com", "password456")
	if err != nil {
		t.Fatal(err)
	}
	other := &domain.QueryRecord{QueryText: "theirs", UserID: someone.ID}
	if err := env.repo.SaveQuery(context.Background(), other); err != nil {
		t.Fatal(err)
	}

	list := decode[struct {
		Queries []domain.QueryRecord `json:"queries"`
		Count   int                  `json:"count"`
	}](t, env.do(t, "GET", "/api/v1/queries", "", env.token))
	if list.Count != 1 || list.Queries[0].ID != mine.QueryID {
		t.Errorf("list = %+v", list)
	}

	if rec := env.do(t, "GET", "/api/v1/queries/"+mine.QueryID, "", env.token); rec.Code != http.StatusOK {
		t.Errorf("own query status = %d", rec.Code)
	}
	rec := env.do(t, "GET", "/api/v1/queries/"+other.ID, "", env.token)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign query status = %d, want 404", rec.Code)
	}
	if got := decode[errorBody](t, rec).Code; got != domain.CodeQueryNotFound {
		t.Errorf("code = %q", got)
	}
	if rec := env.do(t, "GET", "/api/v1/queries/missing", "", env.token); rec.Code != http.StatusNotFound {
		t.Errorf("missing query status = %d", rec.Code)
	}
}

func TestListQueriesLimit(t *testing.T) {
	env := newTestEnv(t, false)
	for _, q := range []string{"a", "b", "c"} {
		env.do(t, "POST", "/api/v1/query", `{"query":"`+q+`"}`, "")
	}
	list := decode[struct {
		Count int `json:"count"`
	}](t, env.do(t, "GET", "/api/v1/queries?limit=2", "", ""))
	if list.Count != 2 {
		t.Errorf("count = %d, want 2", list.Count)
	}
	if rec := env.do(t, "GET", "/api/v1/queries?limit=-1", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSyncRoutes(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, "GET", "/api/v1/sync/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if st := decode[SyncStatus](t, rec); st.Running || st.Last != nil {
		t.Errorf("initial status = %+v", st)
	}

	if rec := env.do(t, "POST", "/api/v1/sync", "", ""); rec.Code != http.StatusAccepted {
		t.Errorf("trigger status = %d", rec.Code)
	}
	env.sync.err = domain.NewDomainError("docsync.Trigger", domain.ErrSyncRunning, "")
	rec = env.do(t, "POST", "/api/v1/sync", "", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("overlapping trigger status = %d, want 409", rec.Code)
	}
	if env.sync.calls != 2 || env.srv.Metrics().SyncTriggered.Load() != 1 {
		t.Errorf("calls = %d, triggered = %d", env.sync.calls, env.srv.Metrics().SyncTriggered.Load())
	}

	rec2 := &domain.SyncRecord{Status: domain.SyncRunning, StartedAt: time.Now()}
	if err := env.repo.StartSync(context.Background(), rec2); err != nil {
		t.Fatal(err)
	}
	env.sync.running = true
	st := decode[SyncStatus](t, env.do(t, "GET", "/api/v1/sync/status", "", ""))
	if !st.Running || st.Last == nil || st.Last.ID != rec2.ID {
		t.Errorf("status = %+v", st)
	}
}

func TestStatusAndAPIs(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(t, "POST", "/api/v1/query", `{"query":"q"}`, "")

	apis := decode[struct {
		Count int `json:"count"`
	}](t, env.do(t, "GET", "/api/v1/apis", "", ""))
	if apis.Count != 1 {
		t.Errorf("apis = %d", apis.Count)
	}

	st := decode[StatusResponse](t, env.do(t, "GET", "/api/v1/status", "", ""))
	if st.QueriesTotal != 1 || st.Endpoints != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestMetricsFormat(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(t, "POST", "/api/v1/query", `{"query":"q"}`, "")

	rec := env.do(t, "GET", "/metrics", "", "")
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE askverse_queries_total counter",
		"askverse_queries_total 1\n",
		"askverse_api_endpoints 1\n",
		"askverse_sync_running 0\n",
		"go_goroutines ",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestQueryRecordSources(t *testing.T) {
	res := &domain.OrchestrationResult{
		Success: false,
		Error:   "partial",
		SubTaskResults: []domain.SubTaskResult{
			{AgentKind: domain.AgentAPI, Confidence: 0.6, Payload: map[string]any{
				"api_calls": []any{map[string]any{"method": "GET", "url": "https://api/users", "status": float64(200)}},
			}},
			{AgentKind: domain.AgentDocument, Confidence: 0.4, Payload: map[string]any{
				"documents": []any{map[string]any{"title": "Untitled"}},
			}},
		},
		Skipped: []domain.SkippedTask{{Task: domain.Task{Description: "x", Kind: "unknown"}, Reason: "no agent"}},
	}
	rec := queryRecord(QueryRequest{Query: "q"}, "", res)

	if len(rec.Sources) != 2 {
		t.Fatalf("sources = %+v", rec.Sources)
	}
	if s := rec.Sources[0]; s.SourceType != domain.SourceAPI || s.SourceID != "GET https://api/users" || s.Relevance != 0.6 {
		t.Errorf("api source = %+v", s)
	}
	if s := rec.Sources[1]; s.SourceType != "document" || s.SourceID != "Untitled" || s.Relevance != 0.4 {
		t.Errorf("document source = %+v", s)
	}
	if rec.Metadata["error"] != "partial" {
		t.Errorf("metadata = %+v", rec.Metadata)
	}
	if _, ok := rec.Metadata["skipped"]; !ok {
		t.Error("skipped tasks not recorded")
	}
}

func TestWebSocketQuery(t *testing.T) {
	env := newTestEnv(t, true)
	ts := httptest.NewServer(env.srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	if _, resp, err := websocket.Dial(ctx, wsURL, nil); err == nil {
		t.Fatal("dial without credentials succeeded")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	conn, _, err := websocket.Dial(ctx, wsURL+"?token="+env.token, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, QueryRequest{Query: " "}); err != nil {
		t.Fatal(err)
	}
	var f Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatal(err)
	}
	if f.Type != FrameError {
		t.Fatalf("frame = %+v, want error", f)
	}

	if err := wsjson.Write(ctx, conn, QueryRequest{Query: "over the wire"}); err != nil {
		t.Fatal(err)
	}
	for {
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatal(err)
		}
		if f.Type == FrameResult {
			break
		}
	}
	if f.Result == nil || !f.Result.Success || f.Result.QueryID == "" {
		t.Fatalf("result = %+v", f.Result)
	}
	if got := f.Result.ResponseText(); got != "answer to over the wire" {
		t.Errorf("response = %q", got)
	}
}
