package service

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/user/medialib/internal/model"
)

// YouTubePlaylistSource YouTube 播放列表，每个条目对应一条视频记录
type YouTubePlaylistSource struct {
	svc        *youtube.Service
	playlistID string
}

// NewYouTubePlaylistSource opts 追加在 API Key 之后，测试时可传 option.WithEndpoint
func NewYouTubePlaylistSource(ctx context.Context, apiKey, playlistID string, opts ...option.ClientOption) (*YouTubePlaylistSource, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube client: %w", err)
	}
	return &YouTubePlaylistSource{svc: svc, playlistID: playlistID}, nil
}

func (s *YouTubePlaylistSource) Name() string {
	return "youtube:" + s.playlistID
}

func (s *YouTubePlaylistSource) FetchPage(ctx context.Context, cursor string, _ *time.Time) (*SourcePage, error) {
	call := s.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		PlaylistId(s.playlistID).
		MaxResults(50).
		Context(ctx)
	if cursor != "" {
		call = call.PageToken(cursor)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("youtube playlist items: %w", err)
	}

	page := &SourcePage{NextCursor: resp.NextPageToken}
	for _, it := range resp.Items {
		if it.Snippet == nil || it.ContentDetails == nil || it.ContentDetails.VideoId == "" {
			continue
		}
		sn := it.Snippet
		// 已删除或转为私享的视频没有可用元数据
		if sn.Title == "Deleted video" || sn.Title == "Private video" {
			continue
		}
		videoID := it.ContentDetails.VideoId
		rec := model.MediaRecord{
			Type:         model.TypeVideo,
			Title:        sn.Title,
			Description:  sn.Description,
			URL:          "https://www.youtube.com/watch?v=" + videoID,
			ThumbnailURL: youtubeThumbnail(sn.Thumbnails),
			Source:       "youtube",
			ExternalID:   videoID,
		}
		rec.Video.Platform = "youtube"
		rec.Video.ChannelName = sn.VideoOwnerChannelTitle
		rec.Video.ChannelID = sn.VideoOwnerChannelId
		if t, err := time.Parse(time.RFC3339, it.ContentDetails.VideoPublishedAt); err == nil {
			rec.Video.PublishedAt = &t
		}
		page.Items = append(page.Items, SourceItem{Record: rec})
	}
	return page, nil
}

func youtubeThumbnail(th *youtube.ThumbnailDetails) string {
	if th == nil {
		return ""
	}
	for _, t := range []*youtube.Thumbnail{th.Maxres, th.High, th.Medium, th.Default} {
		if t != nil && t.Url != "" {
			return t.Url
		}
	}
	return ""
}
