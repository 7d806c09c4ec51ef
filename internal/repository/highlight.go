package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/user/medialib/internal/model"
)

type HighlightRepository struct {
	db *gorm.DB
}

func NewHighlightRepository(db *gorm.DB) *HighlightRepository {
	return &HighlightRepository{db: db}
}

// UpsertByExternalID 按外部 ID 写入，重复导入只更新不新增
func (r *HighlightRepository) UpsertByExternalID(ctx context.Context, h *model.Highlight) error {
	now := time.Now()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source", "text", "note", "record_id", "category", "tags",
			"location", "content_hash", "highlighted_at", "updated_at",
		}),
	}).Create(h).Error
}

// FindByExternalID 不存在返回 nil, nil
func (r *HighlightRepository) FindByExternalID(ctx context.Context, externalID string) (*model.Highlight, error) {
	var h model.Highlight
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&h).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}

// ListByRecord 某条记录关联的标注
func (r *HighlightRepository) ListByRecord(ctx context.Context, recordID uint) ([]model.Highlight, error) {
	var rows []model.Highlight
	err := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("location ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// CountBySource 按来源统计
func (r *HighlightRepository) CountBySource(ctx context.Context, source string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Highlight{}).Where("source = ?", source).Count(&count).Error
	return count, err
}
