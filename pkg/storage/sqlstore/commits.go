package sqlstore

import (
	"context"
	"time"

	"reviewhooks/pkg/storage"

	"gorm.io/gorm/clause"
)

type commitRow struct {
	RepoName     string    `gorm:"column:repo_name;size:255;not null;primaryKey"`
	CommitID     string    `gorm:"column:commit_id;size:64;not null;primaryKey"`
	AuthorEmail  string    `gorm:"column:author_email;size:255;index"`
	Timestamp    time.Time `gorm:"column:ts"`
	Langs        []string  `gorm:"column:langs;type:text;serializer:json"`
	Parents      []string  `gorm:"column:parents;type:text;serializer:json"`
	Insertions   int       `gorm:"column:insertions"`
	Deletions    int       `gorm:"column:deletions"`
	FilesChanged int       `gorm:"column:files_changed"`
}

func (commitRow) TableName() string { return "commits" }

// SaveCommits stores commits, ignoring ones already recorded for the repository.
func (s *Store) SaveCommits(ctx context.Context, commits []storage.CommitRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(commits) == 0 {
		return nil
	}
	rows := make([]commitRow, 0, len(commits))
	for _, commit := range commits {
		rows = append(rows, commitRow{
			RepoName:     commit.RepoName,
			CommitID:     commit.CommitID,
			AuthorEmail:  commit.AuthorEmail,
			Timestamp:    commit.Timestamp.UTC(),
			Langs:        commit.Langs,
			Parents:      commit.Parents,
			Insertions:   commit.Insertions,
			Deletions:    commit.Deletions,
			FilesChanged: commit.FilesChanged,
		})
	}
	return s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// ListCommits returns the commits of a repository ordered by timestamp.
func (s *Store) ListCommits(ctx context.Context, repoName string) ([]storage.CommitRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var data []commitRow
	err := s.db.
		WithContext(ctx).
		Where("repo_name = ?", repoName).
		Order("ts, commit_id").
		Find(&data).Error
	if err != nil {
		return nil, err
	}
	commits := make([]storage.CommitRecord, 0, len(data))
	for _, item := range data {
		commits = append(commits, storage.CommitRecord{
			RepoName:     item.RepoName,
			CommitID:     item.CommitID,
			AuthorEmail:  item.AuthorEmail,
			Timestamp:    item.Timestamp,
			Langs:        item.Langs,
			Parents:      item.Parents,
			Insertions:   item.Insertions,
			Deletions:    item.Deletions,
			FilesChanged: item.FilesChanged,
		})
	}
	return commits, nil
}
