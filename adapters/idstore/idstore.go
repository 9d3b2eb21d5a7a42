// Package idstore is the gorm-backed translation table of the identifier mapping.
package idstore

import (
	"context"
	"errors"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/bookshelf/relmigrate/idmap"
)

// IDMapping is a row of id_mappings.
type IDMapping struct {
	Id         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SourceType string    `gorm:"column:source_type;size:32;not null;uniqueIndex:ux_id_mappings_source"`
	SourceId   string    `gorm:"column:source_id;size:64;not null;uniqueIndex:ux_id_mappings_source"`
	TargetId   string    `gorm:"column:target_id;size:64;not null"`
	CreateTime time.Time `gorm:"column:create_time"`
}

func (IDMapping) TableName() string {
	return "id_mappings"
}

type Store struct {
	db *gorm.DB
}

// New creates the id_mappings table when missing.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&IDMapping{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Find(ctx context.Context, sourceType, sourceID string) (string, bool, error) {
	var m IDMapping
	err := s.db.WithContext(ctx).Where("source_type = ? AND source_id = ?", sourceType, sourceID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.TargetId, true, nil
}

func (s *Store) Insert(ctx context.Context, sourceType, sourceID, targetID string) error {
	m := &IDMapping{SourceType: sourceType, SourceId: sourceID, TargetId: targetID, CreateTime: time.Now()}
	err := s.db.WithContext(ctx).Create(m).Error
	if err != nil && isDuplicate(err) {
		return idmap.ErrUniqueConstraintViolation
	}
	return err
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

// Count returns the number of mappings.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&IDMapping{}).Count(&n).Error
	return n, err
}

// Reset deletes every mapping.
func (s *Store) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&IDMapping{}).Error
}
