package model

import "time"

// Highlight 导入的标注
// ExternalID 全局唯一，重复导入只会更新不会新增
type Highlight struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	ExternalID    string     `json:"external_id" gorm:"size:255;uniqueIndex;not null"`
	Source        string     `json:"source" gorm:"size:64"`
	Text          string     `json:"text" gorm:"not null"`
	Note          string     `json:"note,omitempty"`
	RecordID      *uint      `json:"record_id,omitempty" gorm:"index"` // 弱关联，仅指向 Article/Book
	Category      string     `json:"category" gorm:"size:32"`
	Tags          []string   `json:"tags" gorm:"serializer:json"`
	Location      int        `json:"location,omitempty"`
	ContentHash   string     `json:"-" gorm:"size:64"`
	HighlightedAt *time.Time `json:"highlighted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CanLinkTo 标注只能弱关联到文章或图书
func CanLinkTo(t MediaType) bool {
	return t == TypeArticle || t == TypeBook
}
