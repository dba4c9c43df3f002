package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reviewhooks/pkg/relevance"
	"reviewhooks/pkg/stats"
	"reviewhooks/pkg/storage"
	"reviewhooks/pkg/storage/sqlstore"
	"reviewhooks/pkg/telemetry"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(sqlstore.Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "api.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type recordingTracker struct {
	records []telemetry.Record
}

func (r *recordingTracker) Track(ctx context.Context, record telemetry.Record) {
	r.records = append(r.records, record)
}

type failingSetups struct {
	removeErr error
	listErr   error
}

func (f *failingSetups) RemoveInstallation(ctx context.Context, installID string) error {
	return f.removeErr
}

func (f *failingSetups) SaveSetup(ctx context.Context, installID, provider, owner string, repos []string) error {
	return nil
}

func (f *failingSetups) ListRepoTopics(ctx context.Context, key storage.RepoKey) ([]string, error) {
	return nil, nil
}

func (f *failingSetups) ListReposByTopic(ctx context.Context, topic, provider string) ([]storage.RepoRef, error) {
	return nil, f.listErr
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSetupThenListRepos(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.UpsertUser(ctx, storage.UserRecord{ID: "user-1", TopicName: "install-1"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	setup := &SetupHandler{Setups: store, Users: store, Configs: store, Logger: quietLogger()}

	rec := serve(setup, http.MethodPost, "/api/dpu/setup",
		`{"installationId":"install-1","info":[{"owner":"acme","provider":"bitbucket","repos":["API","web"]}]}`)
	if rec.Code != http.StatusOK || rec.Body.String() != "Ok" {
		t.Fatalf("setup: %d %s", rec.Code, rec.Body.String())
	}
	cfg, err := store.GetRepoConfig(ctx, storage.RepoKey{Provider: "bitbucket", Owner: "acme", Name: "api"})
	if err != nil || cfg == nil {
		t.Fatalf("expected default config, got %+v %v", cfg, err)
	}
	if cfg.AutoAssign || !cfg.Comment || cfg.UserID != "user-1" {
		t.Fatalf("unexpected default config %+v", cfg)
	}

	tracker := &recordingTracker{}
	repos := &ReposHandler{Setups: store, Users: store, Tracker: tracker, Logger: quietLogger()}
	rec = serve(repos, http.MethodGet, "/api/dpu/repos?topicId=install-1&provider=bitbucket", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("repos: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		RepoList []storage.RepoRef `json:"repoList"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.RepoList) != 2 || body.RepoList[0].Name != "api" || body.RepoList[0].Owner != "acme" {
		t.Fatalf("unexpected repos %+v", body.RepoList)
	}
	if len(tracker.records) != 1 || tracker.records[0].Type != "get-user-repos" || tracker.records[0].UserID != "user-1" {
		t.Fatalf("unexpected telemetry %+v", tracker.records)
	}

	// a second setup replaces the first one
	rec = serve(setup, http.MethodPost, "/api/dpu/setup",
		`{"installationId":"install-1","info":[{"owner":"acme","provider":"bitbucket","repos":["web"]}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("second setup: %d", rec.Code)
	}
	rec = serve(repos, http.MethodGet, "/api/dpu/repos?topicId=install-1&provider=bitbucket", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.RepoList) != 1 || body.RepoList[0].Name != "web" {
		t.Fatalf("expected only web after re-setup, got %+v", body.RepoList)
	}
}

func TestSetupErrors(t *testing.T) {
	store := openStore(t)
	handler := &SetupHandler{Setups: store, Users: store, Configs: store, Logger: quietLogger()}

	rec := serve(handler, http.MethodPost, "/", `{"installationId":"i","info":{}}`)
	if rec.Code != http.StatusBadRequest || strings.TrimSpace(rec.Body.String()) != `{"error":"Invalid request body"}` {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(handler, http.MethodPost, "/", `{"installationId":"unknown","info":[]}`)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "No userId found for given installationId") {
		t.Fatalf("expected 404, got %d %s", rec.Code, rec.Body.String())
	}

	handler.Setups = &failingSetups{removeErr: errors.New("db down")}
	rec = serve(handler, http.MethodPost, "/", `{"installationId":"i","info":[]}`)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "Internal Server Error") {
		t.Fatalf("expected 500, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestReposErrors(t *testing.T) {
	store := openStore(t)
	tracker := &recordingTracker{}
	handler := &ReposHandler{Setups: store, Users: store, Tracker: tracker, Logger: quietLogger()}

	for _, target := range []string{"/", "/?topicId=x", "/?provider=bitbucket", "/?topicId=&provider=bitbucket", "/?topicId=a&topicId=b&provider=bitbucket"} {
		rec := serve(handler, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Invalid get request body") {
			t.Fatalf("%s: expected 400, got %d %s", target, rec.Code, rec.Body.String())
		}
	}
	if tracker.records[0].Type != "invalid-body" || tracker.records[0].StatusFlag != 0 {
		t.Fatalf("unexpected telemetry %+v", tracker.records[0])
	}

	tracker.records = nil
	handler.Setups = &failingSetups{listErr: errors.New("db down")}
	rec := serve(handler, http.MethodGet, "/?topicId=x&provider=bitbucket", "")
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "Unable to get user repos from db") {
		t.Fatalf("expected 500, got %d %s", rec.Code, rec.Body.String())
	}
	if last := tracker.records[len(tracker.records)-1]; last.Type != "empty-repos-list-from-db" {
		t.Fatalf("unexpected telemetry %+v", last)
	}
}

func newRelevantHandler(t *testing.T) *RelevantHandler {
	t.Helper()
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.UpsertUser(ctx, storage.UserRecord{
		Aliases:  []string{"ada@example.com"},
		AuthInfo: storage.AuthInfo{"bitbucket": {"acct": {Email: "ada@bb.org"}}},
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	err := store.SaveHunks(ctx, []storage.HunkRecord{
		{Provider: "bitbucket", Owner: "acme", RepoName: "api", ReviewID: "7", AuthorEmail: "ada@example.com", Filepath: "b.go", LineStart: 1, LineEnd: 5},
		{Provider: "bitbucket", Owner: "acme", RepoName: "api", ReviewID: "7", AuthorEmail: "ada@bb.org", Filepath: "a.go"},
		{Provider: "bitbucket", Owner: "acme", RepoName: "api", ReviewID: "8", AuthorEmail: "bob@example.com", Filepath: "c.go"},
	})
	if err != nil {
		t.Fatalf("seed hunks: %v", err)
	}
	return &RelevantHandler{
		Service:        relevance.NewService(store, store, quietLogger()),
		IdentityHeader: "X-Auth-Email",
		AllowedOrigin:  "*",
		Logger:         quietLogger(),
	}
}

func postRelevant(h http.Handler, kind, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/extension/relevant?type="+kind, strings.NewReader(body))
	req.Header.Set("X-Auth-Email", "ada@example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRelevantHandler(t *testing.T) {
	handler := newRelevantHandler(t)
	repoBody := `{"repo_provider":"bitbucket","repo_owner":"acme","repo_name":"API"`

	rec := postRelevant(handler, "review", repoBody+"}")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"relevant":{"7":{"num_hunks_changed":2}}}` {
		t.Fatalf("review: %d %s", rec.Code, rec.Body.String())
	}
	rec = postRelevant(handler, "file", repoBody+`,"pr_number":7}`)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"files":["a.go","b.go"]}` {
		t.Fatalf("file: %d %s", rec.Code, rec.Body.String())
	}
	rec = postRelevant(handler, "hunk", repoBody+`,"pr_number":"7"}`)
	var hunks struct {
		HunkInfo []relevance.HunkInfo `json:"hunkinfo"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hunks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || len(hunks.HunkInfo) != 2 || hunks.HunkInfo[0].LineEnd != 5 {
		t.Fatalf("hunk: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header")
	}
}

func TestRelevantHandlerErrors(t *testing.T) {
	handler := newRelevantHandler(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/extension/relevant", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "Ok" || rec.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Fatalf("options: %d %s", rec.Code, rec.Body.String())
	}

	cases := []struct {
		kind string
		body string
		want string
	}{
		{"review", `{"repo_owner":"acme","repo_name":"api"}`, "Invalid request body"},
		{"file", `{"repo_provider":"bitbucket","repo_owner":"acme","repo_name":"api"}`, "Invalid request body"},
		{"hunk", `{"repo_provider":"bitbucket","repo_owner":"acme","repo_name":"api","pr_number":"x"}`, "Invalid request body"},
		{"commit", `{"repo_provider":"bitbucket","repo_owner":"acme","repo_name":"api"}`, "Invalid type"},
	}
	for _, tc := range cases {
		rec := postRelevant(handler, tc.kind, tc.body)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), tc.want) {
			t.Fatalf("%s: expected 400 %s, got %d %s", tc.kind, tc.want, rec.Code, rec.Body.String())
		}
	}
}

type stubCommits struct {
	commits []storage.CommitRecord
	err     error
}

func (s *stubCommits) SaveCommits(ctx context.Context, commits []storage.CommitRecord) error {
	return nil
}

func (s *stubCommits) ListCommits(ctx context.Context, repoName string) ([]storage.CommitRecord, error) {
	return s.commits, s.err
}

func TestAuthorStatsHandler(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	commits := &stubCommits{commits: []storage.CommitRecord{
		{AuthorEmail: "a@x", Timestamp: base},
		{AuthorEmail: "a@x", Timestamp: base.Add(time.Hour)},
	}}
	handler := &AuthorStatsHandler{Service: stats.NewService(commits, 2), Logger: quietLogger()}

	rec := serve(handler, http.MethodGet, "/api/stats/authors?repo=api", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d %s", rec.Code, rec.Body.String())
	}
	var body stats.RepoStats
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.RepoData) != 1 || body.RepoData[0].NumCommits != 2 {
		t.Fatalf("unexpected stats %+v", body)
	}

	if rec := serve(handler, http.MethodGet, "/api/stats/authors", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without repo, got %d", rec.Code)
	}
	commits.err = errors.New("db down")
	if rec := serve(handler, http.MethodGet, "/api/stats/authors?repo=api", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
