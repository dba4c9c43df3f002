package sqlstore

import (
	"context"
	"errors"
	"time"

	"reviewhooks/pkg/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repoConfigRow struct {
	Provider   string    `gorm:"column:repo_provider;size:32;not null;uniqueIndex:idx_repo_config,priority:1"`
	Owner      string    `gorm:"column:repo_owner;size:255;not null;uniqueIndex:idx_repo_config,priority:2"`
	RepoName   string    `gorm:"column:repo_name;size:255;not null;uniqueIndex:idx_repo_config,priority:3"`
	AutoAssign bool      `gorm:"column:auto_assign;not null;default:false"`
	Comment    bool      `gorm:"column:comment_setting;not null;default:false"`
	UserID     string    `gorm:"column:user_id;size:64"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (repoConfigRow) TableName() string { return "repo_config" }

// GetRepoConfig fetches the config for a repository. The key is normalized first.
func (s *Store) GetRepoConfig(ctx context.Context, key storage.RepoKey) (*storage.RepoConfig, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	key = key.Normalize()
	var data repoConfigRow
	err := s.db.
		WithContext(ctx).
		Where("repo_provider = ? AND repo_owner = ? AND repo_name = ?", key.Provider, key.Owner, key.Name).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := repoConfigFromRow(data)
	return &record, nil
}

// InsertRepoConfigs inserts configs and skips the ones that already exist.
func (s *Store) InsertRepoConfigs(ctx context.Context, configs []storage.RepoConfig) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(configs) == 0 {
		return nil
	}
	rows := make([]repoConfigRow, 0, len(configs))
	for _, cfg := range configs {
		key := cfg.Key().Normalize()
		if key.Provider == "" || key.Owner == "" || key.Name == "" {
			return errors.New("repo provider, owner and name are required")
		}
		cfg.Provider, cfg.Owner, cfg.RepoName = key.Provider, key.Owner, key.Name
		rows = append(rows, repoConfigToRow(cfg))
	}
	return s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func repoConfigToRow(record storage.RepoConfig) repoConfigRow {
	return repoConfigRow{
		Provider:   record.Provider,
		Owner:      record.Owner,
		RepoName:   record.RepoName,
		AutoAssign: record.AutoAssign,
		Comment:    record.Comment,
		UserID:     record.UserID,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
}

func repoConfigFromRow(data repoConfigRow) storage.RepoConfig {
	return storage.RepoConfig{
		Provider:   data.Provider,
		Owner:      data.Owner,
		RepoName:   data.RepoName,
		AutoAssign: data.AutoAssign,
		Comment:    data.Comment,
		UserID:     data.UserID,
		CreatedAt:  data.CreatedAt,
		UpdatedAt:  data.UpdatedAt,
	}
}
