package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/user/medialib/internal/model"
)

type RelationRepository struct {
	db *gorm.DB
}

func NewRelationRepository(db *gorm.DB) *RelationRepository {
	return &RelationRepository{db: db}
}

// Create 新建关系，写入前校验不变量
func (r *RelationRepository) Create(ctx context.Context, rel *model.Relation) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(rel).Error
}

// UpsertAI 每对记录最多一条 AI 推荐边，重复推荐时刷新分数
func (r *RelationRepository) UpsertAI(ctx context.Context, sourceID, targetID uint, score float64) (*model.Relation, error) {
	rel := &model.Relation{
		SourceRecordID: sourceID,
		TargetRecordID: &targetID,
		Provenance:     model.ProvenanceAIRecommended,
		Score:          &score,
	}
	if err := rel.Validate(); err != nil {
		return nil, err
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Relation
		err := tx.Where("source_record_id = ? AND target_record_id = ? AND provenance = ?",
			sourceID, targetID, model.ProvenanceAIRecommended).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(rel).Error
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&existing).Update("score", score).Error; err != nil {
			return err
		}
		existing.Score = &score
		*rel = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// ListBySource 以某条记录为起点的全部关系，AI 推荐按分数降序
func (r *RelationRepository) ListBySource(ctx context.Context, sourceID uint) ([]model.Relation, error) {
	var rows []model.Relation
	err := r.db.WithContext(ctx).
		Where("source_record_id = ?", sourceID).
		Order("provenance DESC, score DESC, id ASC").
		Find(&rows).Error
	return rows, err
}

// DeleteForRecord 删除记录两端的全部关系
func (r *RelationRepository) DeleteForRecord(ctx context.Context, recordID uint) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("source_record_id = ? OR target_record_id = ?", recordID, recordID).
		Delete(&model.Relation{})
	return result.RowsAffected, result.Error
}
