package stats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"reviewhooks/pkg/storage"
)

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

func commitsFor(email string, n int, start time.Time) []storage.CommitRecord {
	out := make([]storage.CommitRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, storage.CommitRecord{
			RepoName:    "api",
			CommitID:    fmt.Sprintf("%s-%d", email, i),
			AuthorEmail: email,
			Timestamp:   start.Add(time.Duration(i) * time.Hour),
			Langs:       []string{"go", "go", "yaml"},
			Parents:     []string{"p1", "p2"},
			Insertions:  i,
		})
	}
	return out
}

func TestAggregate(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var commits []storage.CommitRecord
	commits = append(commits, commitsFor("b@x", 12, start)...)
	commits = append(commits, commitsFor("a@x", 12, start)...)
	commits = append(commits, commitsFor("c@x", 15, start)...)
	commits = append(commits, commitsFor("d@x", 9, start)...)

	got := Aggregate(commits, 10)
	if len(got.RepoData) != 3 {
		t.Fatalf("expected 3 authors, got %d", len(got.RepoData))
	}
	order := []string{"c@x", "a@x", "b@x"}
	for i, email := range order {
		if got.RepoData[i].AuthorEmail != email {
			t.Fatalf("position %d: expected %s, got %s", i, email, got.RepoData[i].AuthorEmail)
		}
	}
	top := got.RepoData[0]
	if top.NumCommits != 15 || len(top.Commits) != 15 {
		t.Fatalf("unexpected commit counts: %+v", top)
	}
	if !top.FirstCommitTS.Equal(start) || !top.LastCommitTS.Equal(start.Add(14*time.Hour)) {
		t.Fatalf("unexpected range %v - %v", top.FirstCommitTS, top.LastCommitTS)
	}
	vec := top.Commits[3]
	if vec.Langs["go"] != 2 || vec.Langs["yaml"] != 1 || vec.Parents != 2 || vec.DiffInsertions != 3 {
		t.Fatalf("unexpected vector %+v", vec)
	}
}

func TestServiceUsesDefaultThreshold(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(&stubCommits{commits: commitsFor("a@x", 9, start)}, 0)
	got, err := svc.RepoStats(context.Background(), "api")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(got.RepoData) != 0 {
		t.Fatalf("expected author below threshold to be dropped")
	}

	svc = NewService(&stubCommits{err: errors.New("db down")}, 1)
	if _, err := svc.RepoStats(context.Background(), "api"); err == nil {
		t.Fatalf("expected store error")
	}
}
