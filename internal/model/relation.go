package model

import (
	"errors"
	"time"
)

// Provenance 关系来源
type Provenance string

const (
	ProvenanceAIRecommended Provenance = "ai_recommended"
	ProvenanceManual        Provenance = "manually_added"
)

var (
	// ErrScoreRequired AI 推荐的关系必须带相似度分数
	ErrScoreRequired = errors.New("ai recommended relation requires a score")
	// ErrInvalidRelation 关系目标不合法
	ErrInvalidRelation = errors.New("relation must target exactly one record or note")
)

// Relation 有向关系：记录 -> 记录 或 记录 -> 笔记
type Relation struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	SourceRecordID uint       `json:"source_record_id" gorm:"index;not null"`
	TargetRecordID *uint      `json:"target_record_id,omitempty" gorm:"index"`
	TargetNoteID   *uint      `json:"target_note_id,omitempty" gorm:"index"`
	Provenance     Provenance `json:"provenance" gorm:"size:32;not null"`
	Score          *float64   `json:"score,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Validate 校验关系不变量
func (r *Relation) Validate() error {
	if (r.TargetRecordID == nil) == (r.TargetNoteID == nil) {
		return ErrInvalidRelation
	}
	if r.TargetRecordID != nil && *r.TargetRecordID == r.SourceRecordID {
		return ErrInvalidRelation
	}
	switch r.Provenance {
	case ProvenanceAIRecommended:
		if r.Score == nil {
			return ErrScoreRequired
		}
	case ProvenanceManual:
	default:
		return ErrInvalidRelation
	}
	return nil
}
