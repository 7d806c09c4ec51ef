package model

import "time"

// Note 笔记库中的一篇笔记，以库内相对路径为自然键
type Note struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	VaultPath   string    `json:"vault_path" gorm:"size:512;uniqueIndex;not null"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Tags        []string  `json:"tags" gorm:"serializer:json"`
	ContentHash string    `json:"content_hash" gorm:"size:64"`
	ModifiedAt  time.Time `json:"modified_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
