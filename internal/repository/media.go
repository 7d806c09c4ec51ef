package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/user/medialib/internal/model"
)

// userOwnedColumns 只允许用户修改的列，同步和富化写入时一律跳过
var userOwnedColumns = []string{"status", "rating", "notes"}

type MediaRepository struct {
	db *gorm.DB
}

func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// Create 新建记录
func (r *MediaRepository) Create(ctx context.Context, rec *model.MediaRecord) error {
	if rec.Status == "" {
		rec.Status = model.StatusUncharted
	}
	rec.Version = 1
	return r.db.WithContext(ctx).Create(rec).Error
}

// FindByID 根据 ID 查找，不存在返回 nil, nil
func (r *MediaRepository) FindByID(ctx context.Context, id uint) (*model.MediaRecord, error) {
	var rec model.MediaRecord
	err := r.db.WithContext(ctx).First(&rec, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// FindByIDs 批量查找，按传入 ID 的顺序返回，不存在的 ID 被跳过
func (r *MediaRepository) FindByIDs(ctx context.Context, ids []uint) ([]model.MediaRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []model.MediaRecord
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]model.MediaRecord, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	out := make([]model.MediaRecord, 0, len(rows))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindByExternalID 根据 (来源, 外部 ID) 查找
func (r *MediaRepository) FindByExternalID(ctx context.Context, source, externalID string) (*model.MediaRecord, error) {
	if source == "" || externalID == "" {
		return nil, nil
	}
	var rec model.MediaRecord
	err := r.db.WithContext(ctx).
		Where("source = ? AND external_id = ?", source, externalID).
		Order("id ASC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// FindByNormalizedURL 按规范化 URL 查找，重复时取最早的一条
func (r *MediaRepository) FindByNormalizedURL(ctx context.Context, normalized string) (*model.MediaRecord, error) {
	if normalized == "" {
		return nil, nil
	}
	var rec model.MediaRecord
	err := r.db.WithContext(ctx).
		Where("normalized_url = ?", normalized).
		Order("id ASC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// List 分页列出，typ 为空时不过滤
func (r *MediaRepository) List(ctx context.Context, typ model.MediaType, limit, offset int) ([]model.MediaRecord, error) {
	var rows []model.MediaRecord
	q := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Offset(offset)
	if typ != "" {
		q = q.Where("type = ?", typ)
	}
	err := q.Find(&rows).Error
	return rows, err
}

// Count 记录总数
func (r *MediaRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.MediaRecord{}).Count(&count).Error
	return count, err
}

// Update 用户编辑：整行覆盖，带版本检查
func (r *MediaRepository) Update(ctx context.Context, rec *model.MediaRecord) error {
	return r.updateVersioned(ctx, rec)
}

// UpdateMetadata 同步/富化写入：不触碰 status、rating、notes
func (r *MediaRepository) UpdateMetadata(ctx context.Context, rec *model.MediaRecord) error {
	return r.updateVersioned(ctx, rec, userOwnedColumns...)
}

func (r *MediaRepository) updateVersioned(ctx context.Context, rec *model.MediaRecord, omit ...string) error {
	next := *rec
	next.Version = rec.Version + 1
	next.UpdatedAt = time.Now()

	omit = append([]string{"id", "created_at"}, omit...)
	result := r.db.WithContext(ctx).
		Model(&model.MediaRecord{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Select("*").
		Omit(omit...).
		Updates(&next)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		exists, err := r.exists(ctx, rec.ID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	rec.Version = next.Version
	rec.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *MediaRepository) exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.MediaRecord{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// Delete 删除记录：同一事务内删除关系和向量，标注解除关联但保留
func (r *MediaRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := NewRelationRepository(tx).DeleteForRecord(ctx, id); err != nil {
			return fmt.Errorf("删除关系失败: %w", err)
		}
		if err := tx.Model(&model.Highlight{}).Where("record_id = ?", id).
			Update("record_id", nil).Error; err != nil {
			return fmt.Errorf("解除标注关联失败: %w", err)
		}
		if err := tx.Where("record_id = ?", id).Delete(&model.Embedding{}).Error; err != nil {
			return fmt.Errorf("删除向量失败: %w", err)
		}
		result := tx.Delete(&model.MediaRecord{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListEnrichmentCandidates 选出某个家族待富化的记录
// 按 ID 升序，已富化、查无此条、重试耗尽的记录不会再被选中，保证多次运行后候选集收敛
func (r *MediaRepository) ListEnrichmentCandidates(ctx context.Context, family model.EnrichmentFamily, limit, maxAttempts int) ([]model.MediaRecord, error) {
	types := family.Types()
	if len(types) == 0 {
		return nil, fmt.Errorf("unknown enrichment family: %s", family)
	}

	q := r.db.WithContext(ctx).
		Where("type IN ?", types).
		Where("enrichment_state = ?", model.EnrichmentPending)
	if maxAttempts > 0 {
		q = q.Where("enrichment_failures < ?", maxAttempts)
	}

	switch family {
	case model.FamilyBooks:
		q = q.Where("(book_open_library_id = '' OR book_open_library_id IS NULL OR description = '' OR description IS NULL)")
	case model.FamilyMovies, model.FamilyTVShows:
		q = q.Where("(screen_tmdb_id = 0 OR screen_tmdb_id IS NULL OR description = '' OR description IS NULL)")
	case model.FamilyPodcasts:
		q = q.Where("(podcast_itunes_id = 0 OR podcast_itunes_id IS NULL OR podcast_feed_url = '' OR podcast_feed_url IS NULL)")
	case model.FamilyWebsites:
		q = q.Where("url <> ''").
			Where("(description = '' OR description IS NULL OR thumbnail_url = '' OR thumbnail_url IS NULL)")
	}

	var rows []model.MediaRecord
	err := q.Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

// MarkEnrichment 记录富化结果（不改变版本号，不属于内容修改）
func (r *MediaRepository) MarkEnrichment(ctx context.Context, id uint, state string, failures int) error {
	updates := map[string]interface{}{
		"enrichment_state":    state,
		"enrichment_failures": failures,
	}
	if state != model.EnrichmentPending {
		updates["enriched_at"] = time.Now()
	}
	result := r.db.WithContext(ctx).Model(&model.MediaRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindInBatches 按主键顺序分批遍历全部记录，用于重建索引
func (r *MediaRepository) FindInBatches(ctx context.Context, batchSize int, fn func(batch []model.MediaRecord) error) error {
	var batch []model.MediaRecord
	result := r.db.WithContext(ctx).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	})
	return result.Error
}
