// Package relevance answers which reviews, files and hunks touch code a user wrote.
package relevance

import (
	"context"
	"log"
	"sort"
	"strconv"

	"reviewhooks/pkg/storage"
)

// HunkInfo describes one changed hunk attributed to the caller.
type HunkInfo struct {
	Author    string `json:"author"`
	Filepath  string `json:"filepath"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	CommitID  string `json:"commit_id"`
}

// ReviewSummary is the relevance of one review.
type ReviewSummary struct {
	NumHunksChanged int `json:"num_hunks_changed"`
}

type Service struct {
	users  storage.UserStore
	hunks  storage.HunkStore
	logger *log.Logger
}

func NewService(users storage.UserStore, hunks storage.HunkStore, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{users: users, hunks: hunks, logger: logger}
}

// UserEmails expands an email into every alias and provider email of the users
// that list it. Lookup failures yield an empty set.
func (s *Service) UserEmails(ctx context.Context, email string) []string {
	if email == "" {
		return nil
	}
	users, err := s.users.ListUsersByAlias(ctx, email)
	if err != nil {
		s.logger.Printf("user aliases for %s failed: %v", email, err)
		return nil
	}
	seen := make(map[string]struct{})
	for _, user := range users {
		for _, alias := range user.Aliases {
			seen[alias] = struct{}{}
		}
		for _, accounts := range user.AuthInfo {
			for _, auth := range accounts {
				if auth.Email != "" {
					seen[auth.Email] = struct{}{}
				}
			}
		}
	}
	return sortedKeys(seen)
}

// Reviews counts the caller's hunks per review. Reviews without hunks are omitted.
func (s *Service) Reviews(ctx context.Context, repo storage.RepoKey, emails []string) (map[string]ReviewSummary, error) {
	out := make(map[string]ReviewSummary)
	if len(emails) == 0 {
		return out, nil
	}
	hunks, err := s.hunks.ListHunks(ctx, storage.HunkFilter{Repo: repo, Authors: emails})
	if err != nil {
		return nil, err
	}
	for _, hunk := range hunks {
		summary := out[hunk.ReviewID]
		summary.NumHunksChanged++
		out[hunk.ReviewID] = summary
	}
	return out, nil
}

// Files lists the distinct files of a review touching the caller's code.
func (s *Service) Files(ctx context.Context, repo storage.RepoKey, prNumber int, emails []string) ([]string, error) {
	hunks, err := s.reviewHunks(ctx, repo, prNumber, emails)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(hunks))
	for _, hunk := range hunks {
		seen[hunk.Filepath] = struct{}{}
	}
	return sortedKeys(seen), nil
}

// Hunks lists the hunks of a review touching the caller's code.
func (s *Service) Hunks(ctx context.Context, repo storage.RepoKey, prNumber int, emails []string) ([]HunkInfo, error) {
	hunks, err := s.reviewHunks(ctx, repo, prNumber, emails)
	if err != nil {
		return nil, err
	}
	out := make([]HunkInfo, 0, len(hunks))
	for _, hunk := range hunks {
		out = append(out, HunkInfo{
			Author:    hunk.AuthorEmail,
			Filepath:  hunk.Filepath,
			LineStart: hunk.LineStart,
			LineEnd:   hunk.LineEnd,
			CommitID:  hunk.CommitID,
		})
	}
	return out, nil
}

func (s *Service) reviewHunks(ctx context.Context, repo storage.RepoKey, prNumber int, emails []string) ([]storage.HunkRecord, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	return s.hunks.ListHunks(ctx, storage.HunkFilter{
		Repo:     repo,
		ReviewID: strconv.Itoa(prNumber),
		Authors:  emails,
	})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
