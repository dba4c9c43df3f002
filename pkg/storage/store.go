package storage

import (
	"context"
	"strings"
	"time"
)

// RepoKey identifies a repository across providers. Name is case-insensitive.
type RepoKey struct {
	Provider string
	Owner    string
	Name     string
}

// Normalize trims every part and lowercases provider and repository name.
func (k RepoKey) Normalize() RepoKey {
	return RepoKey{
		Provider: strings.ToLower(strings.TrimSpace(k.Provider)),
		Owner:    strings.TrimSpace(k.Owner),
		Name:     strings.ToLower(strings.TrimSpace(k.Name)),
	}
}

func (k RepoKey) String() string {
	return k.Provider + "/" + k.Owner + "/" + k.Name
}

// RepoConfig stores per-repository review settings.
type RepoConfig struct {
	Provider   string
	Owner      string
	RepoName   string
	AutoAssign bool
	Comment    bool
	UserID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Key returns the identity of the config.
func (c RepoConfig) Key() RepoKey {
	return RepoKey{Provider: c.Provider, Owner: c.Owner, Name: c.RepoName}
}

// RepoRef is a repository as returned to the browser extension.
type RepoRef struct {
	Owner    string `json:"repo_owner"`
	Provider string `json:"repo_provider"`
	Name     string `json:"repo_name"`
}

// ProviderAuth holds the identity a user logged in with at one provider account.
type ProviderAuth struct {
	Email     string `json:"email,omitempty"`
	Handle    string `json:"handle,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// AuthInfo maps provider -> provider account id -> auth details.
type AuthInfo map[string]map[string]ProviderAuth

// UserRecord is a product user. TopicName is the installation topic the user owns.
type UserRecord struct {
	ID         string
	Name       string
	ProfileURL string
	Aliases    []string
	AuthInfo   AuthInfo
	TopicName  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CommitRecord is one commit of repository history used for author statistics.
type CommitRecord struct {
	RepoName     string
	CommitID     string
	AuthorEmail  string
	Timestamp    time.Time
	Langs        []string
	Parents      []string
	Insertions   int
	Deletions    int
	FilesChanged int
}

// HunkRecord attributes a changed hunk of a review to the author of the original lines.
type HunkRecord struct {
	Provider    string
	Owner       string
	RepoName    string
	ReviewID    string
	AuthorEmail string
	Filepath    string
	LineStart   int
	LineEnd     int
	CommitID    string
}

// HunkFilter selects hunk rows. Empty ReviewID or Authors do not filter.
type HunkFilter struct {
	Repo     RepoKey
	ReviewID string
	Authors  []string
}

// RepoConfigStore defines persistence for repository configs.
type RepoConfigStore interface {
	// GetRepoConfig returns nil, nil when the repository is not configured.
	GetRepoConfig(ctx context.Context, key RepoKey) (*RepoConfig, error)
	// InsertRepoConfigs inserts configs, leaving existing rows untouched.
	InsertRepoConfigs(ctx context.Context, configs []RepoConfig) error
}

// SetupStore defines persistence for which installation set up which repositories.
// The installation id doubles as the topic name for that installation.
type SetupStore interface {
	RemoveInstallation(ctx context.Context, installID string) error
	SaveSetup(ctx context.Context, installID, provider, owner string, repos []string) error
	ListRepoTopics(ctx context.Context, key RepoKey) ([]string, error)
	ListReposByTopic(ctx context.Context, topic, provider string) ([]RepoRef, error)
}

// UserStore defines persistence for users.
type UserStore interface {
	UpsertUser(ctx context.Context, user UserRecord) (string, error)
	// GetUserIDByTopic returns "" when no user owns the topic.
	GetUserIDByTopic(ctx context.Context, topic string) (string, error)
	ListUsersByAlias(ctx context.Context, email string) ([]UserRecord, error)
}

// CommitStore defines persistence for commit history.
type CommitStore interface {
	SaveCommits(ctx context.Context, commits []CommitRecord) error
	ListCommits(ctx context.Context, repoName string) ([]CommitRecord, error)
}

// HunkStore defines persistence for review hunk attribution.
type HunkStore interface {
	SaveHunks(ctx context.Context, hunks []HunkRecord) error
	ListHunks(ctx context.Context, filter HunkFilter) ([]HunkRecord, error)
}
