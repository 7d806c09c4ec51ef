package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/user/medialib/internal/model"
)

type SyncStateRepository struct {
	db *gorm.DB
}

func NewSyncStateRepository(db *gorm.DB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// Get 读取来源的同步状态，从未同步过返回 nil, nil
func (r *SyncStateRepository) Get(ctx context.Context, source string) (*model.SyncState, error) {
	var s model.SyncState
	if err := r.db.WithContext(ctx).Where("source = ?", source).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Save 写入同步状态
func (r *SyncStateRepository) Save(ctx context.Context, s *model.SyncState) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(s).Error
}

// List 全部来源的同步状态
func (r *SyncStateRepository) List(ctx context.Context) ([]model.SyncState, error) {
	var rows []model.SyncState
	err := r.db.WithContext(ctx).Order("source ASC").Find(&rows).Error
	return rows, err
}
