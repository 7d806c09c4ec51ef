package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Embedding 记录的语义向量，每条记录最多一条
type Embedding struct {
	RecordID  uint            `json:"record_id" gorm:"primaryKey;autoIncrement:false"`
	Vector    pgvector.Vector `json:"-" gorm:"type:vector(768)"`
	Content   string          `json:"content"` // 生成向量时使用的原始文本
	Model     string          `json:"model" gorm:"size:128"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName 表名
func (Embedding) TableName() string {
	return "media_embeddings"
}

// ScoredRecord 相似度检索结果
type ScoredRecord struct {
	Record MediaRecord `json:"record"`
	Score  float64     `json:"score"`
}
