package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"reviewhooks/pkg/storage"

	"gorm.io/gorm/clause"
)

type setupRow struct {
	InstallID string    `gorm:"column:install_id;size:128;not null;uniqueIndex:idx_setup,priority:1"`
	Provider  string    `gorm:"column:repo_provider;size:32;not null;uniqueIndex:idx_setup,priority:2"`
	Owner     string    `gorm:"column:repo_owner;size:255;not null;uniqueIndex:idx_setup,priority:3"`
	RepoName  string    `gorm:"column:repo_name;size:255;not null;uniqueIndex:idx_setup,priority:4"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (setupRow) TableName() string { return "setup_repos" }

// RemoveInstallation deletes every setup row of an installation.
func (s *Store) RemoveInstallation(ctx context.Context, installID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(installID) == "" {
		return errors.New("install id is required")
	}
	return s.db.
		WithContext(ctx).
		Where("install_id = ?", installID).
		Delete(&setupRow{}).Error
}

// SaveSetup records that installID set up repos of owner. Repo names are stored lowercase.
func (s *Store) SaveSetup(ctx context.Context, installID, provider, owner string, repos []string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if installID == "" || provider == "" || owner == "" {
		return errors.New("install id, provider and owner are required")
	}
	rows := make([]setupRow, 0, len(repos))
	for _, repo := range repos {
		key := storage.RepoKey{Provider: provider, Owner: owner, Name: repo}.Normalize()
		if key.Name == "" {
			continue
		}
		rows = append(rows, setupRow{
			InstallID: installID,
			Provider:  key.Provider,
			Owner:     key.Owner,
			RepoName:  key.Name,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// ListRepoTopics returns the installation topics that set up a repository.
func (s *Store) ListRepoTopics(ctx context.Context, key storage.RepoKey) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	key = key.Normalize()
	var topics []string
	err := s.db.
		WithContext(ctx).
		Model(&setupRow{}).
		Where("repo_provider = ? AND repo_owner = ? AND repo_name = ?", key.Provider, key.Owner, key.Name).
		Distinct().
		Order("install_id").
		Pluck("install_id", &topics).Error
	if err != nil {
		return nil, err
	}
	return topics, nil
}

// ListReposByTopic lists the repositories an installation set up for a provider.
func (s *Store) ListReposByTopic(ctx context.Context, topic, provider string) ([]storage.RepoRef, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var data []setupRow
	err := s.db.
		WithContext(ctx).
		Where("install_id = ? AND repo_provider = ?", topic, strings.ToLower(provider)).
		Order("repo_owner, repo_name").
		Find(&data).Error
	if err != nil {
		return nil, err
	}
	repos := make([]storage.RepoRef, 0, len(data))
	for _, item := range data {
		repos = append(repos, storage.RepoRef{Owner: item.Owner, Provider: item.Provider, Name: item.RepoName})
	}
	return repos, nil
}
