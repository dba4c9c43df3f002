package sqlstore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"reviewhooks/pkg/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type userRow struct {
	ID         string           `gorm:"column:id;size:64;primaryKey"`
	Name       string           `gorm:"column:name;size:255"`
	ProfileURL string           `gorm:"column:profile_url;size:1024"`
	Aliases    []string         `gorm:"column:aliases;type:text;serializer:json"`
	AuthInfo   storage.AuthInfo `gorm:"column:auth_info;type:text;serializer:json"`
	TopicName  string           `gorm:"column:topic_name;size:128;index"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (userRow) TableName() string { return "users" }

// UpsertUser inserts or updates a user and returns its id. An id is generated when empty.
func (s *Store) UpsertUser(ctx context.Context, user storage.UserRecord) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	aliases := make([]string, 0, len(user.Aliases))
	for _, alias := range user.Aliases {
		alias = strings.TrimSpace(alias)
		if alias != "" && !slices.Contains(aliases, alias) {
			aliases = append(aliases, alias)
		}
	}
	user.Aliases = aliases

	data := userToRow(user)
	err := s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "profile_url", "aliases", "auth_info", "topic_name", "updated_at"}),
		}).
		Create(&data).Error
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// GetUserIDByTopic returns the id of the user owning topic, or "" if none does.
func (s *Store) GetUserIDByTopic(ctx context.Context, topic string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	var data userRow
	err := s.db.
		WithContext(ctx).
		Where("topic_name = ?", topic).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return data.ID, nil
}

// ListUsersByAlias returns users that list email among their aliases.
func (s *Store) ListUsersByAlias(ctx context.Context, email string) ([]storage.UserRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	// aliases is a JSON array in a text column; narrow with LIKE, confirm below.
	var data []userRow
	err := s.db.
		WithContext(ctx).
		Where("aliases LIKE ?", "%\""+email+"\"%").
		Order("id").
		Find(&data).Error
	if err != nil {
		return nil, err
	}
	users := make([]storage.UserRecord, 0, len(data))
	for _, item := range data {
		if slices.Contains(item.Aliases, email) {
			users = append(users, userFromRow(item))
		}
	}
	return users, nil
}

func userToRow(record storage.UserRecord) userRow {
	return userRow{
		ID:         record.ID,
		Name:       record.Name,
		ProfileURL: record.ProfileURL,
		Aliases:    record.Aliases,
		AuthInfo:   record.AuthInfo,
		TopicName:  record.TopicName,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
}

func userFromRow(data userRow) storage.UserRecord {
	return storage.UserRecord{
		ID:         data.ID,
		Name:       data.Name,
		ProfileURL: data.ProfileURL,
		Aliases:    data.Aliases,
		AuthInfo:   data.AuthInfo,
		TopicName:  data.TopicName,
		CreatedAt:  data.CreatedAt,
		UpdatedAt:  data.UpdatedAt,
	}
}
