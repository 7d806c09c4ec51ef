package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/utils"
)

const itunesBaseURL = "https://itunes.apple.com"

// PodcastEnricher iTunes Search API 播客富化
type PodcastEnricher struct {
	client  *utils.HTTPClient
	baseURL string
}

func NewPodcastEnricher() *PodcastEnricher {
	return &PodcastEnricher{
		client:  utils.NewHTTPClient("itunes", 15*time.Second),
		baseURL: itunesBaseURL,
	}
}

// SetBaseURL 替换 API 地址（测试用）
func (e *PodcastEnricher) SetBaseURL(u string) {
	e.baseURL = u
}

func (e *PodcastEnricher) Name() string {
	return "itunes"
}

type itunesSearchResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		CollectionID   int64    `json:"collectionId"`
		CollectionName string   `json:"collectionName"`
		ArtistName     string   `json:"artistName"`
		FeedURL        string   `json:"feedUrl"`
		ArtworkURL600  string   `json:"artworkUrl600"`
		ArtworkURL100  string   `json:"artworkUrl100"`
		Genres         []string `json:"genres"`
	} `json:"results"`
}

func (e *PodcastEnricher) Lookup(ctx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
	term := strings.TrimSpace(rec.Title)
	if term == "" {
		return nil, ErrLookupNotFound
	}
	q := url.Values{}
	q.Set("media", "podcast")
	q.Set("entity", "podcast")
	q.Set("limit", "5")
	q.Set("term", term)

	var res itunesSearchResponse
	if err := e.client.GetJSON(ctx, e.baseURL+"/search?"+q.Encode(), &res); err != nil {
		return nil, fmt.Errorf("itunes search: %w", err)
	}
	if len(res.Results) == 0 {
		return nil, ErrLookupNotFound
	}

	// 优先标题完全一致的结果
	best := res.Results[0]
	for _, r := range res.Results {
		if strings.EqualFold(r.CollectionName, term) {
			best = r
			break
		}
	}

	rec.Podcast.ITunesID = best.CollectionID
	if rec.Podcast.FeedURL == "" {
		rec.Podcast.FeedURL = best.FeedURL
	}
	if rec.Podcast.Publisher == "" {
		rec.Podcast.Publisher = best.ArtistName
	}
	if rec.ThumbnailURL == "" {
		rec.ThumbnailURL = best.ArtworkURL600
		if rec.ThumbnailURL == "" {
			rec.ThumbnailURL = best.ArtworkURL100
		}
	}
	if len(rec.Genres) == 0 {
		for _, g := range best.Genres {
			if g != "Podcasts" {
				rec.Genres = append(rec.Genres, g)
			}
		}
	}
	return rec, nil
}
