package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/medialib/internal/logging"
	"github.com/user/medialib/internal/metrics"
	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/repository"
	"github.com/user/medialib/internal/utils"
)

const (
	maxEmbeddingRunes  = 1000
	embedTimeout       = 60 * time.Second
	maxConcurrentEmbed = 2
)

// EmbeddingService 维护记录的语义向量
type EmbeddingService struct {
	repo     *repository.EmbeddingRepository
	media    *repository.MediaRepository
	embedder utils.Embedder

	group singleflight.Group
	sem   chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	pending map[uint]bool // 正在刷新的记录 → 期间是否又有新的变更
}

func NewEmbeddingService(repo *repository.EmbeddingRepository, media *repository.MediaRepository, embedder utils.Embedder) *EmbeddingService {
	return &EmbeddingService{
		repo:     repo,
		media:    media,
		embedder: embedder,
		sem:      make(chan struct{}, maxConcurrentEmbed),
		pending:  make(map[uint]bool),
	}
}

// EmbeddingContent 生成向量所用的文本
// Title: {标题} | Type: {类型} | By: {创作者} | Genres: {...} | Topics: {...} | Summary: {简介}
func EmbeddingContent(rec *model.MediaRecord) string {
	parts := []string{
		"Title: " + rec.Title,
		"Type: " + string(rec.Type),
	}
	if creator := rec.Creator(); creator != "" {
		parts = append(parts, "By: "+creator)
	}
	if len(rec.Genres) > 0 {
		parts = append(parts, "Genres: "+strings.Join(rec.Genres, ", "))
	}
	if len(rec.Topics) > 0 {
		parts = append(parts, "Topics: "+strings.Join(rec.Topics, ", "))
	}
	if year := recordYear(rec); year > 0 {
		parts = append(parts, "Year: "+strconv.Itoa(year))
	}
	if rec.Description != "" {
		parts = append(parts, "Summary: "+rec.Description)
	}
	content := strings.Join(parts, " | ")

	// 截断过长文本
	if runes := []rune(content); len(runes) > maxEmbeddingRunes {
		content = string(runes[:maxEmbeddingRunes])
	}
	return content
}

// Refresh 内容变化时重新生成向量
func (s *EmbeddingService) Refresh(ctx context.Context, rec *model.MediaRecord) error {
	if s.embedder == nil {
		return nil
	}
	content := EmbeddingContent(rec)

	existing, err := s.repo.Get(ctx, rec.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Content == content && existing.Model == s.embedder.Model() {
		return nil
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("generate embedding: %w", err)
	}
	return s.repo.Store(ctx, rec.ID, vec, content, s.embedder.Model())
}

// Schedule 后台刷新向量，失败只记录
// 同一记录同时只有一个刷新在跑，期间的新变更合并为一次重跑，每次都读取最新的记录
func (s *EmbeddingService) Schedule(id uint) {
	if s.embedder == nil {
		return
	}
	s.mu.Lock()
	if _, running := s.pending[id]; running {
		s.pending[id] = true
		s.mu.Unlock()
		return
	}
	s.pending[id] = false
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			s.refreshLatest(id)

			s.mu.Lock()
			if !s.pending[id] {
				delete(s.pending, id)
				s.mu.Unlock()
				return
			}
			s.pending[id] = false
			s.mu.Unlock()
		}
	}()
}

// refreshLatest 按库里的当前记录刷新向量；记录已删除时清掉残留向量
func (s *EmbeddingService) refreshLatest(id uint) {
	defer logPropagationPanic(id)

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), embedTimeout)
	defer cancel()

	rec, err := s.media.FindByID(ctx, id)
	if err == nil && rec != nil {
		err = s.Refresh(ctx, rec)
	}
	if err != nil {
		metrics.PropagationFailures.WithLabelValues("embedding", "upsert").Inc()
		logging.Warn().Err(err).Uint("id", id).Msg("[Embedding] 向量更新失败")
		return
	}

	// 写入期间记录可能被删除，再确认一次
	if rec != nil {
		if rec, err = s.media.FindByID(ctx, id); err != nil || rec != nil {
			return
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		metrics.PropagationFailures.WithLabelValues("embedding", "delete").Inc()
		logging.Warn().Err(err).Uint("id", id).Msg("[Embedding] 清理向量失败")
	}
}

// Wait 等待后台任务结束（关闭服务和测试时使用）
func (s *EmbeddingService) Wait() {
	s.wg.Wait()
}

// Ensure 读取向量，不存在时即时生成；没有配置 embedder 时返回 nil, nil
func (s *EmbeddingService) Ensure(ctx context.Context, id uint) (*model.Embedding, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil || existing != nil {
		return existing, err
	}
	if s.embedder == nil {
		return nil, nil
	}

	v, err, _ := s.group.Do("ensure:"+strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		rec, err := s.media.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, ErrNotFound
		}
		if err := s.Refresh(ctx, rec); err != nil {
			return nil, err
		}
		return s.repo.Get(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	emb, _ := v.(*model.Embedding)
	return emb, nil
}

// recordYear 记录的年份（发行/出版/发布）
func recordYear(rec *model.MediaRecord) int {
	switch rec.Type {
	case model.TypeMovie, model.TypeTVShow:
		return rec.Screen.ReleaseYear
	case model.TypeBook:
		return rec.Book.PublishedYear
	case model.TypePodcast, model.TypePodcastEpisode:
		if rec.Podcast.PublishedAt != nil {
			return rec.Podcast.PublishedAt.Year()
		}
	case model.TypeVideo, model.TypeChannel, model.TypePlaylist:
		if rec.Video.PublishedAt != nil {
			return rec.Video.PublishedAt.Year()
		}
	case model.TypeArticle, model.TypeWebsite:
		if rec.Web.PublishedAt != nil {
			return rec.Web.PublishedAt.Year()
		}
	}
	return 0
}
