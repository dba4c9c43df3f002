package relevance

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"reviewhooks/pkg/storage"
)

type stubUsers struct {
	users []storage.UserRecord
	err   error
}

func (s *stubUsers) UpsertUser(ctx context.Context, user storage.UserRecord) (string, error) {
	return user.ID, nil
}

func (s *stubUsers) GetUserIDByTopic(ctx context.Context, topic string) (string, error) {
	return "", nil
}

func (s *stubUsers) ListUsersByAlias(ctx context.Context, email string) ([]storage.UserRecord, error) {
	return s.users, s.err
}

type stubHunks struct {
	hunks   []storage.HunkRecord
	filters []storage.HunkFilter
	err     error
}

func (s *stubHunks) SaveHunks(ctx context.Context, hunks []storage.HunkRecord) error { return nil }

func (s *stubHunks) ListHunks(ctx context.Context, filter storage.HunkFilter) ([]storage.HunkRecord, error) {
	s.filters = append(s.filters, filter)
	if s.err != nil {
		return nil, s.err
	}
	var out []storage.HunkRecord
	for _, hunk := range s.hunks {
		if filter.ReviewID != "" && hunk.ReviewID != filter.ReviewID {
			continue
		}
		out = append(out, hunk)
	}
	return out, nil
}

var repo = storage.RepoKey{Provider: "bitbucket", Owner: "acme", Name: "api"}

func newService(users *stubUsers, hunks *stubHunks) *Service {
	return NewService(users, hunks, log.New(io.Discard, "", 0))
}

func TestUserEmailsExpandsAliasesAndAuth(t *testing.T) {
	users := &stubUsers{users: []storage.UserRecord{{
		Aliases: []string{"ada@example.com", "a@corp.io"},
		AuthInfo: storage.AuthInfo{
			"bitbucket": {"acct": {Email: "ada@bb.org"}},
			"github":    {"gh": {Handle: "ada"}},
		},
	}}}
	got := newService(users, &stubHunks{}).UserEmails(context.Background(), "ada@example.com")
	want := []string{"a@corp.io", "ada@bb.org", "ada@example.com"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	users.err = errors.New("db down")
	if got := newService(users, &stubHunks{}).UserEmails(context.Background(), "ada@example.com"); len(got) != 0 {
		t.Fatalf("expected empty set on error, got %v", got)
	}
}

func TestReviewsCountsHunks(t *testing.T) {
	hunks := &stubHunks{hunks: []storage.HunkRecord{
		{ReviewID: "7", Filepath: "a.go"},
		{ReviewID: "7", Filepath: "b.go"},
		{ReviewID: "9", Filepath: "a.go"},
	}}
	svc := newService(&stubUsers{}, hunks)
	got, err := svc.Reviews(context.Background(), repo, []string{"a@x"})
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}
	if got["7"].NumHunksChanged != 2 || got["9"].NumHunksChanged != 1 || len(got) != 2 {
		t.Fatalf("unexpected reviews %v", got)
	}

	got, err = svc.Reviews(context.Background(), repo, nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no reviews without emails, got %v %v", got, err)
	}
}

func TestFilesAndHunks(t *testing.T) {
	hunks := &stubHunks{hunks: []storage.HunkRecord{
		{ReviewID: "7", Filepath: "b.go", AuthorEmail: "a@x", LineStart: 1, LineEnd: 3},
		{ReviewID: "7", Filepath: "a.go", AuthorEmail: "a@x"},
		{ReviewID: "7", Filepath: "b.go", AuthorEmail: "a@x"},
		{ReviewID: "8", Filepath: "c.go", AuthorEmail: "a@x"},
	}}
	svc := newService(&stubUsers{}, hunks)
	files, err := svc.Files(context.Background(), repo, 7, []string{"a@x"})
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 || files[0] != "a.go" || files[1] != "b.go" {
		t.Fatalf("unexpected files %v", files)
	}
	if hunks.filters[0].ReviewID != "7" {
		t.Fatalf("expected review filter, got %+v", hunks.filters[0])
	}

	info, err := svc.Hunks(context.Background(), repo, 7, []string{"a@x"})
	if err != nil {
		t.Fatalf("hunks: %v", err)
	}
	if len(info) != 3 || info[0].Filepath != "b.go" || info[0].LineEnd != 3 {
		t.Fatalf("unexpected hunks %+v", info)
	}

	hunks.err = errors.New("db down")
	if _, err := svc.Hunks(context.Background(), repo, 7, []string{"a@x"}); err == nil {
		t.Fatalf("expected store error")
	}
}
