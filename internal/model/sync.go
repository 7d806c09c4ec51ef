package model

import "time"

// SyncState 每个外部来源的增量同步水位
type SyncState struct {
	Source      string     `json:"source" gorm:"primaryKey;size:64"`
	Watermark   *time.Time `json:"watermark,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastCreated int        `json:"last_created"`
	LastUpdated int        `json:"last_updated"`
	LastSkipped int        `json:"last_skipped"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SyncResult 一次同步的结果
type SyncResult struct {
	Source             string     `json:"source"`
	Pages              int        `json:"pages"`
	Created            int        `json:"created"`
	Updated            int        `json:"updated"`
	Skipped            int        `json:"skipped"`
	HighlightsUpserted int        `json:"highlights_upserted"`
	Watermark          *time.Time `json:"watermark,omitempty"`
	Error              string     `json:"error,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         time.Time  `json:"finished_at"`
}
