package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/user/medialib/internal/logging"
	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/repository"
	"github.com/user/medialib/internal/search"
	"github.com/user/medialib/internal/utils"
)

// MediaService 规范记录的写入入口
// 写入分两步：先提交规范存储（失败直接返回），再尽力同步检索索引和向量（失败只记录，不回滚）
type MediaService struct {
	media      *repository.MediaRepository
	gateway    *search.Gateway
	embeddings *EmbeddingService
}

func NewMediaService(media *repository.MediaRepository, gateway *search.Gateway, embeddings *EmbeddingService) *MediaService {
	return &MediaService{
		media:      media,
		gateway:    gateway,
		embeddings: embeddings,
	}
}

// Get 读取记录，不存在返回 ErrNotFound
func (s *MediaService) Get(ctx context.Context, id uint) (*model.MediaRecord, error) {
	rec, err := s.media.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Create 新建记录
func (s *MediaService) Create(ctx context.Context, rec *model.MediaRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	prepareRecord(rec)
	if err := s.media.Create(ctx, rec); err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	s.propagate(ctx, rec)
	return nil
}

// Update 用户编辑，带版本检查
func (s *MediaService) Update(ctx context.Context, rec *model.MediaRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	prepareRecord(rec)
	if err := s.media.Update(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.propagate(ctx, rec)
	return nil
}

// ApplySourceUpdate 同步/富化产生的写入，status、rating、notes 保持不变
func (s *MediaService) ApplySourceUpdate(ctx context.Context, rec *model.MediaRecord) error {
	prepareRecord(rec)
	if err := s.media.UpdateMetadata(ctx, rec); err != nil {
		return err
	}
	// status、rating、notes 没有写入，以库里的整行为准同步派生视图
	if stored, err := s.media.FindByID(ctx, rec.ID); err == nil && stored != nil {
		*rec = *stored
	}
	s.propagate(ctx, rec)
	return nil
}

// Delete 删除记录及其派生数据
func (s *MediaService) Delete(ctx context.Context, id uint) error {
	if err := s.media.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.gateway.IndexDelete(ctx, id)
	return nil
}

// ReindexAll 重建全部检索文档
func (s *MediaService) ReindexAll(ctx context.Context, batchSize int) (int, error) {
	return s.gateway.ReindexAll(ctx, s.media, batchSize)
}

// propagate 第二步：同步派生视图，任何失败都不影响已提交的规范写入
func (s *MediaService) propagate(ctx context.Context, rec *model.MediaRecord) {
	s.gateway.IndexUpsert(ctx, rec)
	if s.embeddings != nil {
		s.embeddings.Schedule(rec.ID)
	}
}

func validateRecord(rec *model.MediaRecord) error {
	if !rec.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, rec.Type)
	}
	if strings.TrimSpace(rec.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRecord)
	}
	if rec.Status != "" && !rec.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, rec.Status)
	}
	if rec.Rating != nil && (*rec.Rating < 1 || *rec.Rating > 5) {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidRecord)
	}
	return nil
}

// prepareRecord 派生去重字段
func prepareRecord(rec *model.MediaRecord) {
	rec.Title = strings.TrimSpace(rec.Title)
	rec.URL = strings.TrimSpace(rec.URL)
	rec.NormalizedURL = utils.NormalizeURL(rec.URL)
	if rec.URL != "" && rec.Domain == "" {
		rec.Domain = utils.ExtractDomain(rec.URL)
	}
	rec.Topics = dedupeStrings(rec.Topics)
	rec.Genres = dedupeStrings(rec.Genres)
}

// dedupeStrings topics/genres 是集合，去掉空白和重复（保留首次出现的顺序）
func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func logPropagationPanic(id uint) {
	if r := recover(); r != nil {
		logging.Error().Uint("id", id).Interface("panic", r).Msg("[Media] 派生数据同步发生恐慌")
	}
}
