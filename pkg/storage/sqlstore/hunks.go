package sqlstore

import (
	"context"

	"reviewhooks/pkg/storage"
)

type hunkRow struct {
	ID          uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Provider    string `gorm:"column:repo_provider;size:32;not null;index:idx_hunk_repo,priority:1"`
	Owner       string `gorm:"column:repo_owner;size:255;not null;index:idx_hunk_repo,priority:2"`
	RepoName    string `gorm:"column:repo_name;size:255;not null;index:idx_hunk_repo,priority:3"`
	ReviewID    string `gorm:"column:review_id;size:64;index:idx_hunk_repo,priority:4"`
	AuthorEmail string `gorm:"column:author_email;size:255"`
	Filepath    string `gorm:"column:filepath;size:1024"`
	LineStart   int    `gorm:"column:line_start"`
	LineEnd     int    `gorm:"column:line_end"`
	CommitID    string `gorm:"column:commit_id;size:64"`
}

func (hunkRow) TableName() string { return "hunks" }

func (s *Store) SaveHunks(ctx context.Context, hunks []storage.HunkRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(hunks) == 0 {
		return nil
	}
	rows := make([]hunkRow, 0, len(hunks))
	for _, hunk := range hunks {
		key := storage.RepoKey{Provider: hunk.Provider, Owner: hunk.Owner, Name: hunk.RepoName}.Normalize()
		rows = append(rows, hunkRow{
			Provider:    key.Provider,
			Owner:       key.Owner,
			RepoName:    key.Name,
			ReviewID:    hunk.ReviewID,
			AuthorEmail: hunk.AuthorEmail,
			Filepath:    hunk.Filepath,
			LineStart:   hunk.LineStart,
			LineEnd:     hunk.LineEnd,
			CommitID:    hunk.CommitID,
		})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *Store) ListHunks(ctx context.Context, filter storage.HunkFilter) ([]storage.HunkRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	key := filter.Repo.Normalize()
	query := s.db.
		WithContext(ctx).
		Where("repo_provider = ? AND repo_owner = ? AND repo_name = ?", key.Provider, key.Owner, key.Name)
	if filter.ReviewID != "" {
		query = query.Where("review_id = ?", filter.ReviewID)
	}
	if len(filter.Authors) > 0 {
		query = query.Where("author_email IN ?", filter.Authors)
	}
	var data []hunkRow
	if err := query.Order("id").Find(&data).Error; err != nil {
		return nil, err
	}
	hunks := make([]storage.HunkRecord, 0, len(data))
	for _, item := range data {
		hunks = append(hunks, storage.HunkRecord{
			Provider:    item.Provider,
			Owner:       item.Owner,
			RepoName:    item.RepoName,
			ReviewID:    item.ReviewID,
			AuthorEmail: item.AuthorEmail,
			Filepath:    item.Filepath,
			LineStart:   item.LineStart,
			LineEnd:     item.LineEnd,
			CommitID:    item.CommitID,
		})
	}
	return hunks, nil
}

var (
	_ storage.RepoConfigStore = (*Store)(nil)
	_ storage.SetupStore      = (*Store)(nil)
	_ storage.UserStore       = (*Store)(nil)
	_ storage.CommitStore     = (*Store)(nil)
	_ storage.HunkStore       = (*Store)(nil)
)
