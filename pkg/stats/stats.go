// Package stats aggregates commit history into per-author contribution vectors.
package stats

import (
	"context"
	"sort"
	"time"

	"reviewhooks/pkg/storage"
)

// DefaultMinCommits is the threshold below which authors are left out.
const DefaultMinCommits = 10

// CommitVector summarizes one commit.
type CommitVector struct {
	Langs            map[string]int `json:"langs"`
	Parents          int            `json:"parents"`
	DiffInsertions   int            `json:"diff_insertions"`
	DiffDeletions    int            `json:"diff_deletions"`
	DiffFilesChanged int            `json:"diff_files_changed"`
}

// AuthorVector is the contribution summary of one author.
type AuthorVector struct {
	AuthorEmail   string         `json:"author_email"`
	NumCommits    int            `json:"num_commits"`
	FirstCommitTS time.Time      `json:"first_commit_ts"`
	LastCommitTS  time.Time      `json:"last_commit_ts"`
	Commits       []CommitVector `json:"commits"`
}

// RepoStats is the response for one repository.
type RepoStats struct {
	RepoData []AuthorVector `json:"repo_data"`
}

// Aggregate groups commits by author email. Authors with fewer than minCommits
// commits are dropped; the rest are ordered by commit count, then email.
func Aggregate(commits []storage.CommitRecord, minCommits int) RepoStats {
	byAuthor := make(map[string]*AuthorVector)
	for _, commit := range commits {
		author, ok := byAuthor[commit.AuthorEmail]
		if !ok {
			author = &AuthorVector{
				AuthorEmail:   commit.AuthorEmail,
				FirstCommitTS: commit.Timestamp,
				LastCommitTS:  commit.Timestamp,
			}
			byAuthor[commit.AuthorEmail] = author
		}
		author.NumCommits++
		if commit.Timestamp.Before(author.FirstCommitTS) {
			author.FirstCommitTS = commit.Timestamp
		}
		if commit.Timestamp.After(author.LastCommitTS) {
			author.LastCommitTS = commit.Timestamp
		}
		author.Commits = append(author.Commits, CommitVector{
			Langs:            countLangs(commit.Langs),
			Parents:          len(commit.Parents),
			DiffInsertions:   commit.Insertions,
			DiffDeletions:    commit.Deletions,
			DiffFilesChanged: commit.FilesChanged,
		})
	}

	out := RepoStats{RepoData: make([]AuthorVector, 0, len(byAuthor))}
	for _, author := range byAuthor {
		if author.NumCommits < minCommits {
			continue
		}
		out.RepoData = append(out.RepoData, *author)
	}
	sort.Slice(out.RepoData, func(i, j int) bool {
		a, b := out.RepoData[i], out.RepoData[j]
		if a.NumCommits != b.NumCommits {
			return a.NumCommits > b.NumCommits
		}
		return a.AuthorEmail < b.AuthorEmail
	})
	return out
}

func countLangs(langs []string) map[string]int {
	counts := make(map[string]int, len(langs))
	for _, lang := range langs {
		counts[lang]++
	}
	return counts
}

// Service loads commit history and aggregates it.
type Service struct {
	commits    storage.CommitStore
	minCommits int
}

func NewService(commits storage.CommitStore, minCommits int) *Service {
	if minCommits <= 0 {
		minCommits = DefaultMinCommits
	}
	return &Service{commits: commits, minCommits: minCommits}
}

func (s *Service) RepoStats(ctx context.Context, repoName string) (RepoStats, error) {
	commits, err := s.commits.ListCommits(ctx, repoName)
	if err != nil {
		return RepoStats{}, err
	}
	return Aggregate(commits, s.minCommits), nil
}
