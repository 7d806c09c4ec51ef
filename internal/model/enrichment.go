package model

import "time"

// EnrichmentFamily 富化任务按媒体家族划分，不同家族的候选集互不相交
type EnrichmentFamily string

const (
	FamilyBooks    EnrichmentFamily = "books"
	FamilyMovies   EnrichmentFamily = "movies"
	FamilyTVShows  EnrichmentFamily = "tv_shows"
	FamilyPodcasts EnrichmentFamily = "podcasts"
	FamilyWebsites EnrichmentFamily = "websites"
)

// AllFamilies 全部家族
func AllFamilies() []EnrichmentFamily {
	return []EnrichmentFamily{FamilyBooks, FamilyMovies, FamilyTVShows, FamilyPodcasts, FamilyWebsites}
}

// Types 家族包含的媒体类型
func (f EnrichmentFamily) Types() []MediaType {
	switch f {
	case FamilyBooks:
		return []MediaType{TypeBook}
	case FamilyMovies:
		return []MediaType{TypeMovie}
	case FamilyTVShows:
		return []MediaType{TypeTVShow}
	case FamilyPodcasts:
		return []MediaType{TypePodcast}
	case FamilyWebsites:
		return []MediaType{TypeArticle, TypeWebsite}
	}
	return nil
}

// EnrichmentResult 一次富化批处理的结果
// 不变量：TotalProcessed = EnrichedCount + FailedCount + NotFoundCount + SkippedCount
type EnrichmentResult struct {
	Family         EnrichmentFamily `json:"family"`
	TotalProcessed int              `json:"total_processed"`
	EnrichedCount  int              `json:"enriched_count"`
	FailedCount    int              `json:"failed_count"`
	NotFoundCount  int              `json:"not_found_count"`
	SkippedCount   int              `json:"skipped_count"`
	Errors         []string         `json:"errors"`
	WasCancelled   bool             `json:"was_cancelled"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
}
