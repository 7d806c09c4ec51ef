package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/repository"
)

// SimilarItem 带推荐理由的相似记录
type SimilarItem struct {
	Record     model.MediaRecord `json:"record"`
	Score      float64           `json:"score"`
	Reason     string            `json:"reason"`
	ReasonType string            `json:"reason_type"`
}

// SimilarityService 语义相似与关系推荐
type SimilarityService struct {
	media      *repository.MediaRepository
	vectors    *repository.EmbeddingRepository
	relations  *repository.RelationRepository
	notes      *repository.NoteRepository
	embeddings *EmbeddingService
}

func NewSimilarityService(repos *repository.Repositories, embeddings *EmbeddingService) *SimilarityService {
	return &SimilarityService{
		media:      repos.Media,
		vectors:    repos.Embedding,
		relations:  repos.Relation,
		notes:      repos.Note,
		embeddings: embeddings,
	}
}

// FindSimilar 查找相似记录并生成推荐理由；向量不可用时返回空列表
func (s *SimilarityService) FindSimilar(ctx context.Context, id uint, types []model.MediaType, limit int) ([]SimilarItem, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	source, err := s.media.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, ErrNotFound
	}
	if !s.vectors.IsAvailable(ctx) {
		return []SimilarItem{}, nil
	}

	emb, err := s.embeddings.Ensure(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load embedding: %w", err)
	}
	if emb == nil {
		return []SimilarItem{}, nil
	}

	scored, err := s.vectors.FindSimilar(ctx, repository.SimilarQuery{
		Vector:    emb.Vector.Slice(),
		ExcludeID: id,
		Types:     types,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	items := make([]SimilarItem, 0, len(scored))
	for _, sr := range scored {
		reason, reasonType := RecommendationReason(source, &sr.Record)
		items = append(items, SimilarItem{
			Record:     sr.Record,
			Score:      sr.Score,
			Reason:     reason,
			ReasonType: reasonType,
		})
	}
	return items, nil
}

// Recommend 把相似结果保存为 AI 推荐关系（带分数），重复推荐只刷新分数
func (s *SimilarityService) Recommend(ctx context.Context, id uint, limit int) ([]model.Relation, error) {
	items, err := s.FindSimilar(ctx, id, nil, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Relation, 0, len(items))
	for _, item := range items {
		rel, err := s.relations.UpsertAI(ctx, id, item.Record.ID, item.Score)
		if err != nil {
			return out, err
		}
		out = append(out, *rel)
	}
	return out, nil
}

// AddManualRelation 手动添加关系，目标为记录或笔记之一
func (s *SimilarityService) AddManualRelation(ctx context.Context, sourceID uint, targetRecordID, targetNoteID *uint) (*model.Relation, error) {
	if rec, err := s.media.FindByID(ctx, sourceID); err != nil {
		return nil, err
	} else if rec == nil {
		return nil, ErrNotFound
	}
	if targetRecordID != nil {
		target, err := s.media.FindByID(ctx, *targetRecordID)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, ErrNotFound
		}
	}
	if targetNoteID != nil {
		note, err := s.notes.FindByID(ctx, *targetNoteID)
		if err != nil {
			return nil, err
		}
		if note == nil {
			return nil, ErrNotFound
		}
	}

	rel := &model.Relation{
		SourceRecordID: sourceID,
		TargetRecordID: targetRecordID,
		TargetNoteID:   targetNoteID,
		Provenance:     model.ProvenanceManual,
	}
	if err := s.relations.Create(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// Relations 以记录为起点的关系
func (s *SimilarityService) Relations(ctx context.Context, id uint) ([]model.Relation, error) {
	return s.relations.ListBySource(ctx, id)
}

// RecommendationReason 生成推荐理由（优先级：同一创作者 > 类型重合 > 主题重合 > 年代接近 > 语义相似）
func RecommendationReason(source, target *model.MediaRecord) (string, string) {
	// 1. 同一创作者
	if creator := source.Creator(); creator != "" && strings.EqualFold(creator, target.Creator()) {
		return fmt.Sprintf("同样出自 %s 之手，风格一脉相承", creator), "creator"
	}

	// 2. 类型重合
	if common := intersectFold(source.Genres, target.Genres); len(common) > 0 {
		return fmt.Sprintf("同属%s类型，带给你类似的体验", joinTop(common, 2)), "genre"
	}

	// 3. 主题重合
	if common := intersectFold(source.Topics, target.Topics); len(common) > 0 {
		return fmt.Sprintf("都涉及 %s 主题", joinTop(common, 3)), "topic"
	}

	// 4. 年代接近
	sy, ty := recordYear(source), recordYear(target)
	if sy > 0 && ty > 0 && math.Abs(float64(sy-ty)) <= 3 {
		if sy == ty {
			return fmt.Sprintf("同为 %d 年的作品", sy), "era"
		}
		return fmt.Sprintf("同为 %d-%d 年前后的作品", min(sy, ty), max(sy, ty)), "era"
	}

	// 5. 兜底：语义相似
	if source.Type != target.Type {
		return "跨类型的内容语义相近", "semantic"
	}
	return "基于内容相似度推荐", "semantic"
}

// intersectFold 忽略大小写求交集，保留 a 中的写法
func intersectFold(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[strings.ToLower(s)] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[strings.ToLower(s)]; ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func joinTop(items []string, n int) string {
	if len(items) > n {
		items = items[:n]
	}
	return strings.Join(items, "、")
}
