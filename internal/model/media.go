package model

import (
	"time"
)

// MediaType 媒体类型（封闭集合）
type MediaType string

const (
	TypeArticle        MediaType = "article"
	TypeBook           MediaType = "book"
	TypeMovie          MediaType = "movie"
	TypeTVShow         MediaType = "tv_show"
	TypePodcast        MediaType = "podcast"
	TypePodcastEpisode MediaType = "podcast_episode"
	TypeVideo          MediaType = "video"
	TypeWebsite        MediaType = "website"
	TypeDocument       MediaType = "document"
	TypeChannel        MediaType = "channel"
	TypePlaylist       MediaType = "playlist"
)

// AllMediaTypes 返回全部媒体类型
func AllMediaTypes() []MediaType {
	return []MediaType{
		TypeArticle, TypeBook, TypeMovie, TypeTVShow, TypePodcast, TypePodcastEpisode,
		TypeVideo, TypeWebsite, TypeDocument, TypeChannel, TypePlaylist,
	}
}

// Valid 是否为已知类型
func (t MediaType) Valid() bool {
	for _, mt := range AllMediaTypes() {
		if mt == t {
			return true
		}
	}
	return false
}

// Status 用户浏览状态
type Status string

const (
	StatusUncharted         Status = "uncharted"
	StatusActivelyExploring Status = "actively_exploring"
	StatusCompleted         Status = "completed"
	StatusAbandoned         Status = "abandoned"
)

// Valid 是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusUncharted, StatusActivelyExploring, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// 富化状态
const (
	EnrichmentPending   = ""
	EnrichmentEnriched  = "enriched"
	EnrichmentNotFound  = "not_found"
	EnrichmentExhausted = "exhausted"
)

// MediaRecord 媒体记录（规范存储）
// 所有类型共用一张表，类型专有字段放在带前缀的嵌入结构里，由 Type 决定哪一组有效
type MediaRecord struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Type         MediaType `json:"type" gorm:"size:32;index;not null"`
	Title        string    `json:"title" gorm:"not null"`
	Status       Status    `json:"status" gorm:"size:32;index;default:uncharted"`
	Rating       *int      `json:"rating,omitempty" gorm:"index"` // 1-5，用户控制
	Description  string    `json:"description"`
	Notes        string    `json:"notes"`
	Topics       []string  `json:"topics" gorm:"serializer:json"`
	Genres       []string  `json:"genres" gorm:"serializer:json"`
	ThumbnailURL string    `json:"thumbnail_url"`

	// 来源与去重
	Source          string     `json:"source" gorm:"size:64;index:idx_media_source_external"`
	ExternalID      string     `json:"external_id" gorm:"size:255;index:idx_media_source_external"`
	URL             string     `json:"url"`
	NormalizedURL   string     `json:"normalized_url" gorm:"index"`
	Domain          string     `json:"domain" gorm:"size:255"`
	ContentHash     string     `json:"content_hash" gorm:"size:64"`
	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`

	// 富化状态
	EnrichmentState    string     `json:"enrichment_state" gorm:"size:16;index"`
	EnrichmentFailures int        `json:"enrichment_failures"`
	EnrichedAt         *time.Time `json:"enriched_at,omitempty"`

	Book     BookDetails     `json:"book" gorm:"embedded;embeddedPrefix:book_"`
	Screen   ScreenDetails   `json:"screen" gorm:"embedded;embeddedPrefix:screen_"`
	Podcast  PodcastDetails  `json:"podcast" gorm:"embedded;embeddedPrefix:podcast_"`
	Video    VideoDetails    `json:"video" gorm:"embedded;embeddedPrefix:video_"`
	Web      WebDetails      `json:"web" gorm:"embedded;embeddedPrefix:web_"`
	Document DocumentDetails `json:"document" gorm:"embedded;embeddedPrefix:doc_"`

	Version   int       `json:"version" gorm:"not null;default:1"` // 乐观锁版本号
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BookDetails 图书字段
type BookDetails struct {
	Author        string `json:"author,omitempty"`
	Publisher     string `json:"publisher,omitempty"`
	ISBN          string `json:"isbn,omitempty" gorm:"column:isbn;size:32"`
	OpenLibraryID string `json:"open_library_id,omitempty" gorm:"column:open_library_id;size:64"`
	PageCount     int    `json:"page_count,omitempty"`
	PublishedYear int    `json:"published_year,omitempty"`
}

// ScreenDetails 电影/剧集字段
type ScreenDetails struct {
	Director       string `json:"director,omitempty"`
	ReleaseYear    int    `json:"release_year,omitempty"`
	TMDBID         int    `json:"tmdb_id,omitempty" gorm:"column:tmdb_id"`
	IMDbID         string `json:"imdb_id,omitempty" gorm:"column:imdb_id;size:32"`
	RuntimeMinutes int    `json:"runtime_minutes,omitempty"`
	Seasons        int    `json:"seasons,omitempty"`
	Network        string `json:"network,omitempty"`
}

// PodcastDetails 播客（节目/单集）字段
type PodcastDetails struct {
	Publisher       string     `json:"publisher,omitempty"`
	FeedURL         string     `json:"feed_url,omitempty"`
	ITunesID        int64      `json:"itunes_id,omitempty" gorm:"column:itunes_id"`
	ShowTitle       string     `json:"show_title,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
}

// VideoDetails 视频/频道/播放列表字段
type VideoDetails struct {
	Platform        string     `json:"platform,omitempty" gorm:"size:32"`
	ChannelName     string     `json:"channel_name,omitempty"`
	ChannelID       string     `json:"channel_id,omitempty" gorm:"size:64"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	ItemCount       int        `json:"item_count,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
}

// WebDetails 文章/网站字段
type WebDetails struct {
	Byline      string     `json:"byline,omitempty"`
	SiteName    string     `json:"site_name,omitempty"`
	WordCount   int        `json:"word_count,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// DocumentDetails 文档字段
type DocumentDetails struct {
	Correspondent string `json:"correspondent,omitempty"`
	DocumentType  string `json:"document_type,omitempty"`
	PageCount     int    `json:"page_count,omitempty"`
}

// TableName 表名
func (MediaRecord) TableName() string {
	return "media_records"
}

// IDString 搜索文档 ID
func (m *MediaRecord) IDString() string {
	return formatID(m.ID)
}

// Clone 深拷贝（切片与指针字段单独复制）
func (m *MediaRecord) Clone() *MediaRecord {
	c := *m
	if m.Rating != nil {
		r := *m.Rating
		c.Rating = &r
	}
	c.Topics = append([]string(nil), m.Topics...)
	c.Genres = append([]string(nil), m.Genres...)
	c.RemoteUpdatedAt = cloneTime(m.RemoteUpdatedAt)
	c.EnrichedAt = cloneTime(m.EnrichedAt)
	c.Podcast.PublishedAt = cloneTime(m.Podcast.PublishedAt)
	c.Video.PublishedAt = cloneTime(m.Video.PublishedAt)
	c.Web.PublishedAt = cloneTime(m.Web.PublishedAt)
	return &c
}

// Creator 返回该类型最有代表性的作者类字段（作者/导演/主播/频道/署名）
func (m *MediaRecord) Creator() string {
	switch m.Type {
	case TypeBook:
		return m.Book.Author
	case TypeMovie, TypeTVShow:
		return m.Screen.Director
	case TypePodcast, TypePodcastEpisode:
		return m.Podcast.Publisher
	case TypeVideo, TypeChannel, TypePlaylist:
		return m.Video.ChannelName
	case TypeArticle, TypeWebsite:
		return m.Web.Byline
	case TypeDocument:
		return m.Document.Correspondent
	}
	return ""
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
