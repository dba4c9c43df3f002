package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"reviewhooks/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "store.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresDriverAndDSN(t *testing.T) {
	if _, err := Open(Config{DSN: "x.db"}); err == nil {
		t.Fatalf("expected error without driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}); err == nil {
		t.Fatalf("expected error without dsn")
	}
	if _, err := Open(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestRepoConfigMissingReturnsNil(t *testing.T) {
	store := openTestStore(t)
	cfg, err := store.GetRepoConfig(context.Background(), storage.RepoKey{Provider: "bitbucket", Owner: "acme", Name: "api"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config, got %+v", cfg)
	}
}

func TestRepoConfigLookupIsCaseInsensitiveOnName(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	err := store.InsertRepoConfigs(ctx, []storage.RepoConfig{{
		Provider: "bitbucket", Owner: "acme", RepoName: "API", AutoAssign: true, Comment: true,
	}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	cfg, err := store.GetRepoConfig(ctx, storage.RepoKey{Provider: "Bitbucket", Owner: "acme", Name: "Api"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg == nil || cfg.RepoName != "api" || !cfg.AutoAssign || !cfg.Comment {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestInsertRepoConfigsKeepsExisting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	first := storage.RepoConfig{Provider: "bitbucket", Owner: "acme", RepoName: "api", AutoAssign: true}
	if err := store.InsertRepoConfigs(ctx, []storage.RepoConfig{first}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	second := first
	second.AutoAssign = false
	if err := store.InsertRepoConfigs(ctx, []storage.RepoConfig{second}); err != nil {
		t.Fatalf("insert again: %v", err)
	}
	cfg, err := store.GetRepoConfig(ctx, first.Key())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg == nil || !cfg.AutoAssign {
		t.Fatalf("expected original config to survive, got %+v", cfg)
	}
	if err := store.InsertRepoConfigs(ctx, nil); err != nil {
		t.Fatalf("empty insert: %v", err)
	}
}

func TestSetupTopicsAndRepos(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.SaveSetup(ctx, "install-b", "bitbucket", "acme", []string{"API", "web"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveSetup(ctx, "install-a", "bitbucket", "acme", []string{"api"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveSetup(ctx, "install-a", "bitbucket", "acme", []string{"api"}); err != nil {
		t.Fatalf("save duplicate: %v", err)
	}

	topics, err := store.ListRepoTopics(ctx, storage.RepoKey{Provider: "bitbucket", Owner: "acme", Name: "Api"})
	if err != nil {
		t.Fatalf("topics: %v", err)
	}
	if len(topics) != 2 || topics[0] != "install-a" || topics[1] != "install-b" {
		t.Fatalf("unexpected topics: %v", topics)
	}

	repos, err := store.ListReposByTopic(ctx, "install-b", "bitbucket")
	if err != nil {
		t.Fatalf("repos: %v", err)
	}
	if len(repos) != 2 || repos[0].Name != "api" || repos[1].Name != "web" {
		t.Fatalf("unexpected repos: %+v", repos)
	}

	if err := store.RemoveInstallation(ctx, "install-b"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	repos, err = store.ListReposByTopic(ctx, "install-b", "bitbucket")
	if err != nil {
		t.Fatalf("repos after remove: %v", err)
	}
	if len(repos) != 0 {
		t.Fatalf("expected no repos after remove, got %+v", repos)
	}
}

func TestUsersByTopicAndAlias(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	id, err := store.UpsertUser(ctx, storage.UserRecord{
		Name:      "Ada",
		Aliases:   []string{"ada@example.com", "ada@example.com", "a@corp.io"},
		TopicName: "install-a",
		AuthInfo: storage.AuthInfo{
			"bitbucket": {"acct-1": {Email: "ada@bb.org", Handle: "ada"}},
		},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}
	if _, err := store.UpsertUser(ctx, storage.UserRecord{Name: "Bob", Aliases: []string{"bob@example.com"}}); err != nil {
		t.Fatalf("upsert bob: %v", err)
	}

	got, err := store.GetUserIDByTopic(ctx, "install-a")
	if err != nil {
		t.Fatalf("by topic: %v", err)
	}
	if got != id {
		t.Fatalf("expected %s, got %s", id, got)
	}
	missing, err := store.GetUserIDByTopic(ctx, "install-x")
	if err != nil || missing != "" {
		t.Fatalf("expected empty id, got %q err=%v", missing, err)
	}

	users, err := store.ListUsersByAlias(ctx, "a@corp.io")
	if err != nil {
		t.Fatalf("by alias: %v", err)
	}
	if len(users) != 1 || users[0].ID != id || len(users[0].Aliases) != 2 {
		t.Fatalf("unexpected users: %+v", users)
	}
	if users[0].AuthInfo["bitbucket"]["acct-1"].Email != "ada@bb.org" {
		t.Fatalf("auth info not round tripped: %+v", users[0].AuthInfo)
	}

	if _, err := store.UpsertUser(ctx, storage.UserRecord{ID: id, Name: "Ada L", Aliases: []string{"ada@example.com"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	users, err = store.ListUsersByAlias(ctx, "a@corp.io")
	if err != nil {
		t.Fatalf("by alias after update: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected alias removed, got %+v", users)
	}
}

func TestCommitsAndHunks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	commits := []storage.CommitRecord{
		{RepoName: "api", CommitID: "c2", AuthorEmail: "a@x", Timestamp: base.Add(time.Hour), Langs: []string{"go"}},
		{RepoName: "api", CommitID: "c1", AuthorEmail: "a@x", Timestamp: base, Parents: []string{"c0"}, Insertions: 3},
		{RepoName: "web", CommitID: "c9", AuthorEmail: "b@x", Timestamp: base},
	}
	if err := store.SaveCommits(ctx, commits); err != nil {
		t.Fatalf("save commits: %v", err)
	}
	if err := store.SaveCommits(ctx, commits[:1]); err != nil {
		t.Fatalf("save duplicate commit: %v", err)
	}
	got, err := store.ListCommits(ctx, "api")
	if err != nil {
		t.Fatalf("list commits: %v", err)
	}
	if len(got) != 2 || got[0].CommitID != "c1" || got[0].Insertions != 3 || got[1].Langs[0] != "go" {
		t.Fatalf("unexpected commits: %+v", got)
	}

	repo := storage.RepoKey{Provider: "bitbucket", Owner: "acme", Name: "api"}
	hunks := []storage.HunkRecord{
		{Provider: "bitbucket", Owner: "acme", RepoName: "API", ReviewID: "7", AuthorEmail: "a@x", Filepath: "main.go", LineStart: 1, LineEnd: 4},
		{Provider: "bitbucket", Owner: "acme", RepoName: "api", ReviewID: "7", AuthorEmail: "b@x", Filepath: "util.go"},
		{Provider: "bitbucket", Owner: "acme", RepoName: "api", ReviewID: "8", AuthorEmail: "a@x", Filepath: "main.go"},
	}
	if err := store.SaveHunks(ctx, hunks); err != nil {
		t.Fatalf("save hunks: %v", err)
	}
	byAuthor, err := store.ListHunks(ctx, storage.HunkFilter{Repo: repo, Authors: []string{"a@x"}})
	if err != nil {
		t.Fatalf("list hunks: %v", err)
	}
	if len(byAuthor) != 2 {
		t.Fatalf("expected 2 hunks for author, got %d", len(byAuthor))
	}
	byReview, err := store.ListHunks(ctx, storage.HunkFilter{Repo: repo, ReviewID: "7", Authors: []string{"a@x"}})
	if err != nil {
		t.Fatalf("list hunks by review: %v", err)
	}
	if len(byReview) != 1 || byReview[0].LineEnd != 4 {
		t.Fatalf("unexpected hunks: %+v", byReview)
	}
}
