package repository

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/utils"
)

// availabilityTTL 可用性检查结果的缓存时间
const availabilityTTL = time.Minute

// SimilarQuery 相似度检索条件
type SimilarQuery struct {
	Vector    []float32
	ExcludeID uint              // 0 表示不排除
	Types     []model.MediaType // 为空时不过滤
	Limit     int
}

// EmbeddingRepository 向量存储
// postgres 下使用 pgvector 的 <=> 余弦距离在库内排序，其他方言在进程内计算
type EmbeddingRepository struct {
	db       *gorm.DB
	media    *MediaRepository
	cacheKey string
}

func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepository {
	return &EmbeddingRepository{
		db:       db,
		media:    NewMediaRepository(db),
		cacheKey: "vector:" + uuid.NewString(),
	}
}

func (r *EmbeddingRepository) native() bool {
	return r.db.Dialector.Name() == "postgres"
}

// Store 写入或覆盖一条记录的向量
func (r *EmbeddingRepository) Store(ctx context.Context, recordID uint, vec []float32, content, modelName string) error {
	e := model.Embedding{
		RecordID:  recordID,
		Vector:    pgvector.NewVector(vec),
		Content:   content,
		Model:     modelName,
		UpdatedAt: time.Now(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"vector", "content", "model", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return err
	}
	utils.CacheSet(r.cacheKey+":any", true, availabilityTTL)
	return nil
}

// Get 读取向量，不存在返回 nil, nil
func (r *EmbeddingRepository) Get(ctx context.Context, recordID uint) (*model.Embedding, error) {
	var e model.Embedding
	err := r.db.WithContext(ctx).Where("record_id = ?", recordID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// Delete 删除向量
func (r *EmbeddingRepository) Delete(ctx context.Context, recordID uint) error {
	err := r.db.WithContext(ctx).Where("record_id = ?", recordID).Delete(&model.Embedding{}).Error
	utils.CacheDelete(r.cacheKey + ":any")
	return err
}

type scoredID struct {
	RecordID uint
	Score    float64
}

// FindSimilar 按 1 - 余弦距离降序返回最相似的记录
// ExcludeID 在排序之前剔除，自身向量即使完全匹配也不会出现在结果里
func (r *EmbeddingRepository) FindSimilar(ctx context.Context, q SimilarQuery) ([]model.ScoredRecord, error) {
	if len(q.Vector) == 0 || q.Limit <= 0 {
		return nil, nil
	}

	var (
		ranked []scoredID
		err    error
	)
	if r.native() {
		ranked, err = r.rankInDatabase(ctx, q)
	} else {
		ranked, err = r.rankInProcess(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(ranked))
	scores := make(map[uint]float64, len(ranked))
	for i, s := range ranked {
		ids[i] = s.RecordID
		scores[s.RecordID] = s.Score
	}

	// FindByIDs 保持排名顺序，排名之后被删除的记录直接跳过
	records, err := r.media.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.ScoredRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, model.ScoredRecord{Record: rec, Score: scores[rec.ID]})
	}
	return out, nil
}

func (r *EmbeddingRepository) candidates(ctx context.Context, q SimilarQuery) *gorm.DB {
	tx := r.db.WithContext(ctx).
		Table("media_embeddings AS e").
		Joins("JOIN media_records m ON m.id = e.record_id")
	if q.ExcludeID != 0 {
		tx = tx.Where("e.record_id <> ?", q.ExcludeID)
	}
	if len(q.Types) > 0 {
		tx = tx.Where("m.type IN ?", q.Types)
	}
	return tx
}

func (r *EmbeddingRepository) rankInDatabase(ctx context.Context, q SimilarQuery) ([]scoredID, error) {
	vec := pgvector.NewVector(q.Vector)
	var rows []scoredID
	err := r.candidates(ctx, q).
		Select("e.record_id AS record_id, 1 - (e.vector <=> ?) AS score", vec).
		Order(clause.Expr{SQL: "e.vector <=> ?", Vars: []interface{}{vec}}).
		Limit(q.Limit).
		Scan(&rows).Error
	return rows, err
}

func (r *EmbeddingRepository) rankInProcess(ctx context.Context, q SimilarQuery) ([]scoredID, error) {
	var rows []model.Embedding
	err := r.candidates(ctx, q).
		Select("e.record_id, e.vector").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	ranked := make([]scoredID, 0, len(rows))
	for _, row := range rows {
		score, ok := CosineSimilarity(q.Vector, row.Vector.Slice())
		if !ok {
			continue
		}
		ranked = append(ranked, scoredID{RecordID: row.RecordID, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score == ranked[j].Score {
			return ranked[i].RecordID < ranked[j].RecordID
		}
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}
	return ranked, nil
}

// CosineSimilarity 余弦相似度；维度不一致或零向量时 ok=false
func CosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

// IsAvailable 向量检索是否可用（仅作快速判断，结果缓存一分钟）
func (r *EmbeddingRepository) IsAvailable(ctx context.Context) bool {
	ok, err := utils.CacheRemember(r.cacheKey+":available", availabilityTTL, func() (bool, error) {
		if !r.native() {
			return true, nil
		}
		var count int64
		err := r.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM pg_extension WHERE extname = 'vector'").Scan(&count).Error
		return count > 0, err
	})
	return err == nil && ok
}

// HasAnyEmbeddings 是否已有向量（仅作快速判断）
func (r *EmbeddingRepository) HasAnyEmbeddings(ctx context.Context) bool {
	ok, err := utils.CacheRemember(r.cacheKey+":any", availabilityTTL, func() (bool, error) {
		var count int64
		err := r.db.WithContext(ctx).Model(&model.Embedding{}).Limit(1).Count(&count).Error
		return count > 0, err
	})
	return err == nil && ok
}
